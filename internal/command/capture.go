package command

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
)

// Policy decides which image capture responses are accepted.
type Policy string

const (
	// PolicyStrict accepts only the response to the pending request.
	PolicyStrict Policy = "strict"
	// PolicyLatest accepts any response and clears the pending request.
	PolicyLatest Policy = "latest"
)

// ParsePolicy validates s.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyStrict, PolicyLatest:
		return p, nil
	}
	return "", fmt.Errorf("unknown capture policy %q", s)
}

// PendingCapture is the outstanding image request.
type PendingCapture struct {
	RequestID  string              `json:"request_id"`
	Resolution protocol.Resolution `json:"resolution"`
	IssuedAt   time.Time           `json:"issued_at"`
}

// CaptureResult is delivered to image capture handlers.
type CaptureResult struct {
	Success    bool                `json:"success"`
	RequestID  string              `json:"request_id"`
	ImageData  string              `json:"image_data,omitempty"`
	ImageSize  int                 `json:"image_size,omitempty"`
	Resolution protocol.Resolution `json:"resolution,omitempty"`
	Error      string              `json:"error,omitempty"`
	Latency    time.Duration       `json:"latency,omitempty"`
}

// ImageCaptureHandler receives accepted capture results on the network goroutine.
type ImageCaptureHandler func(ctx context.Context, result CaptureResult)

// OnImageCapture registers h.
func (f *Facade) OnImageCapture(h ImageCaptureHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, h)
}

// Pending returns the outstanding request, if any.
func (f *Facade) Pending() (PendingCapture, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return PendingCapture{}, false
	}
	return *f.pending, true
}

// RequestImageCapture publishes a capture request and returns its id. The
// pending record is written before the publish so that a fast response finds
// it; a failed publish restores the previous record. A successful request
// supersedes any outstanding one.
func (f *Facade) RequestImageCapture(ctx context.Context, res protocol.Resolution) (string, error) {
	if !res.Valid() {
		return "", fmt.Errorf("%w: resolution %q", ErrUnknownAction, res)
	}

	p := &PendingCapture{RequestID: f.newID(), Resolution: res, IssuedAt: f.clock.Now()}

	f.mu.Lock()
	prev := f.pending
	f.pending = p
	f.mu.Unlock()

	req := protocol.ImageCaptureRequest{RequestID: p.RequestID, Resolution: res, Timestamp: protocol.NewTimestamp(p.IssuedAt)}
	if err := f.pub.Publish(ctx, topic.RequestImage, req); err != nil {
		f.mu.Lock()
		if f.pending == p {
			f.pending = prev
		}
		f.mu.Unlock()
		metrics.ImageCapturesTotal.WithLabelValues("requested", metrics.ResultFailed).Inc()
		return "", err
	}

	metrics.ImageCapturesTotal.WithLabelValues("requested", metrics.ResultSuccess).Inc()
	if prev != nil {
		f.logger.Info("Superseded pending image capture", "previous", prev.RequestID)
	}
	f.logger.Info("Requested image capture", "requestID", p.RequestID, "resolution", string(res))
	return p.RequestID, nil
}

// HandleImageResponse correlates a capture response with the pending request
// and, when accepted, hands it to the registered handlers. It reports whether
// the response was accepted.
func (f *Facade) HandleImageResponse(ctx context.Context, r *protocol.ImageCaptureResponse) bool {
	f.mu.Lock()
	pending := f.pending
	accept := false
	switch f.policy {
	case PolicyLatest:
		accept = true
	default:
		accept = pending != nil && pending.RequestID == r.RequestID
	}
	if accept {
		f.pending = nil
	}
	handlers := append([]ImageCaptureHandler(nil), f.callbacks...)
	f.mu.Unlock()

	if !accept {
		expected := ""
		if pending != nil {
			expected = pending.RequestID
		}
		f.logger.Warn("Dropping stale image capture response", "requestID", r.RequestID, "pending", expected)
		metrics.ImageCapturesTotal.WithLabelValues("response", metrics.ResultRejected).Inc()
		return false
	}

	result := CaptureResult{
		Success:    r.Succeeded(),
		RequestID:  r.RequestID,
		ImageData:  r.ImageData,
		ImageSize:  r.ImageSize,
		Resolution: r.Resolution,
		Error:      r.Error,
	}
	if pending != nil {
		if result.Resolution == "" {
			result.Resolution = pending.Resolution
		}
		result.Latency = f.clock.Since(pending.IssuedAt)
	}

	metrics.ImageCapturesTotal.WithLabelValues("response", metrics.ResultAccepted).Inc()
	if len(handlers) == 0 {
		f.logger.Debug("No image capture handler registered", "requestID", r.RequestID)
	}
	for _, h := range handlers {
		f.invoke(ctx, h, result)
	}
	return true
}

func (f *Facade) invoke(ctx context.Context, h ImageCaptureHandler, result CaptureResult) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error(fmt.Errorf("panic: %v", r), "Image capture handler panicked", "requestID", result.RequestID)
		}
	}()
	h(ctx, result)
}
