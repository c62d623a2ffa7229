// Package archive uploads captured images to S3 compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/minio/minio-go/v7"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	"github.com/autopeer-io/ridergate/pkg/log"
)

const DefaultQueueSize = 16

// Config locates uploaded objects.
type Config struct {
	Bucket    string
	Region    string
	Prefix    string
	QueueSize int
}

type job struct {
	result command.CaptureResult
	key    string
}

// Archive uploads successful captures from a bounded queue. Enqueueing never
// blocks; a full queue drops the frame.
type Archive struct {
	cfg    Config
	store  ObjectStore
	clock  clock.PassiveClock
	logger log.Logger

	mu     sync.Mutex
	closed bool
	queue  chan job
	done   chan struct{}
}

// New returns an archive writing to store.
func New(cfg Config, store ObjectStore, clk clock.PassiveClock, logger log.Logger) *Archive {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("archive")
	}
	return &Archive{
		cfg:    cfg,
		store:  store,
		clock:  clk,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// ObjectKey is <prefix>/<yyyy>/<mm>/<dd>/<request_id>.jpg.
func (a *Archive) ObjectKey(requestID string) string {
	day := a.clock.Now().UTC().Format("2006/01/02")
	return path.Join(a.cfg.Prefix, day, requestID+".jpg")
}

// HandleCapture is a command.ImageCaptureHandler. Failed captures and
// captures without image data are ignored.
func (a *Archive) HandleCapture(_ context.Context, result command.CaptureResult) {
	if !result.Success || result.ImageData == "" {
		return
	}
	a.Enqueue(result)
}

// Enqueue schedules an upload and reports whether it was accepted.
func (a *Archive) Enqueue(result command.CaptureResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	select {
	case a.queue <- job{result: result, key: a.ObjectKey(result.RequestID)}:
		return true
	default:
		metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultDropped).Inc()
		a.logger.Warn("Archive queue full, dropping image", "requestID", result.RequestID)
		return false
	}
}

// Run ensures the bucket exists and uploads queued images until Stop is
// called or ctx is done.
func (a *Archive) Run(ctx context.Context) error {
	defer close(a.done)

	if err := a.EnsureBucket(ctx); err != nil {
		return err
	}
	a.logger.Info("Image archive started", "bucket", a.cfg.Bucket, "prefix", a.cfg.Prefix)

	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-a.queue:
			if !ok {
				return nil
			}
			a.upload(ctx, j)
		}
	}
}

// Stop closes the queue and waits for queued uploads to drain.
func (a *Archive) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archive) upload(ctx context.Context, j job) {
	data, err := base64.StdEncoding.DecodeString(j.result.ImageData)
	if err != nil {
		metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultDecodeError).Inc()
		a.logger.Warn("Image data is not valid base64", "requestID", j.result.RequestID, "error", err)
		return
	}

	opts := minio.PutObjectOptions{
		ContentType: "image/jpeg",
		UserMetadata: map[string]string{
			"request-id": j.result.RequestID,
			"resolution": string(j.result.Resolution),
			"latency-ms": strconv.FormatInt(j.result.Latency.Milliseconds(), 10),
		},
	}
	info, err := a.store.PutObject(ctx, a.cfg.Bucket, j.key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		a.logger.Error(fmt.Errorf("put %s: %w", j.key, err), "Failed to archive image", "requestID", j.result.RequestID)
		return
	}

	metrics.ArchiveUploadsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	a.logger.Info("Archived image", "bucket", info.Bucket, "key", info.Key, "size", info.Size)
}
