package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/pkg/log"
)

type object struct {
	bucket, key string
	data        []byte
	opts        minio.PutObjectOptions
}

type fakeStore struct {
	mu      sync.Mutex
	exists  bool
	made    []string
	objects []object
	putErr  error
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, object{bucket: bucket, key: key, data: data, opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) list() []object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]object(nil), f.objects...)
}

func newTestArchive(store ObjectStore, size int) *Archive {
	clk := testingclock.NewFakeClock(time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC))
	return New(Config{Bucket: "rider", Prefix: "captures", QueueSize: size}, store, clk, log.NewNopLogger())
}

func capture(id string, data string) command.CaptureResult {
	return command.CaptureResult{Success: true, RequestID: id, ImageData: data, Resolution: "low"}
}

func TestObjectKey(t *testing.T) {
	a := newTestArchive(&fakeStore{}, 1)
	if got, want := a.ObjectKey("abc"), "captures/2026/03/07/abc.jpg"; got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}
}

func TestUploadsQueuedCaptures(t *testing.T) {
	store := &fakeStore{}
	a := newTestArchive(store, 4)

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	a.HandleCapture(context.Background(), capture("one", base64.StdEncoding.EncodeToString(jpeg)))
	a.HandleCapture(context.Background(), command.CaptureResult{Success: false, RequestID: "failed", Error: "no camera"})
	a.HandleCapture(context.Background(), capture("bad", "%%%"))

	errc := make(chan error, 1)
	go func() { errc <- a.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.made) != 1 || store.made[0] != "rider" {
		t.Errorf("bucket not created: %v", store.made)
	}
	objs := store.list()
	if len(objs) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(objs))
	}
	o := objs[0]
	if o.key != "captures/2026/03/07/one.jpg" || string(o.data) != string(jpeg) {
		t.Errorf("object = %s %x", o.key, o.data)
	}
	if o.opts.ContentType != "image/jpeg" || o.opts.UserMetadata["resolution"] != "low" {
		t.Errorf("options = %+v", o.opts)
	}

	if a.Enqueue(capture("late", "AA==")) {
		t.Error("enqueue accepted after stop")
	}
}

func TestFullQueueDrops(t *testing.T) {
	a := newTestArchive(&fakeStore{exists: true}, 1)
	dropped := metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultDropped)
	before := testutil.ToFloat64(dropped)

	if !a.Enqueue(capture("first", "AA==")) {
		t.Fatal("first enqueue rejected")
	}
	if a.Enqueue(capture("second", "AA==")) {
		t.Error("enqueue on a full queue accepted")
	}
	if d := testutil.ToFloat64(dropped) - before; d != 1 {
		t.Errorf("dropped delta = %v, want 1", d)
	}
}

func TestUploadFailureCounted(t *testing.T) {
	store := &fakeStore{exists: true, putErr: errors.New("access denied")}
	a := newTestArchive(store, 1)
	failed := metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultFailed)
	before := testutil.ToFloat64(failed)

	a.Enqueue(capture("one", "AA=="))
	go func() { _ = a.Run(context.Background()) }()
	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	if d := testutil.ToFloat64(failed) - before; d != 1 {
		t.Errorf("failed delta = %v, want 1", d)
	}
}
