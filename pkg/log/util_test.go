package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time type", []any{"t", now}, []string{"t"}},
		{"float type", []any{"roll", 3.14}, []string{"roll"}},
		{"payload bytes", []any{"payload", []byte(`{"level":40}`)}, []string{"payload"}},
		{"error only", []any{err}, []string{"error"}},
		{"mixed field types", []any{"topic", "rider/status", zap.String("x", "y"), "qos", 0}, []string{"topic", "x", "qos"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
		{"string slice", []any{"topics", []string{"rider/status", "rider/status/imu"}}, []string{"topics"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), len(tt.wantKeys), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestTypedField(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want zapcore.FieldType
	}{
		{"string", "rider/status", zapcore.StringType},
		{"bool", true, zapcore.BoolType},
		{"int", 85, zapcore.Int64Type},
		{"float64", 0.1, zapcore.Float64Type},
		{"duration", 2 * time.Second, zapcore.DurationType},
		{"bytes", []byte("{}"), zapcore.ByteStringType},
		{"error", errors.New("x"), zapcore.ErrorType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := typedField("k", tt.val).Type; got != tt.want {
				t.Errorf("typedField(%v).Type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr int
	}{
		{"defaults", func(o *Options) {}, 0},
		{"bad level", func(o *Options) { o.Level = "loud" }, 1},
		{"bad format", func(o *Options) { o.Format = "xml" }, 1},
		{"bad everything", func(o *Options) { o.Level = "x"; o.Format = "y"; o.CallerSkip = -1 }, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			if errs := o.Validate(); len(errs) != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d: %v", len(errs), tt.wantErr, errs)
			}
		})
	}
}
