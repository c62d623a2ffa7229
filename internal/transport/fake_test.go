package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/autopeer-io/ridergate/pkg/mqtt"
)

type published struct {
	topic   string
	payload string
}

// fakeMQTT records calls and lets tests drive the connection hooks.
type fakeMQTT struct {
	cfg *mqtt.ClientConfig

	mu            sync.Mutex
	started       bool
	stopped       bool
	disconnects   int
	publishes     []published
	subscriptions []string
	publishErr    error
	failTopic     string
	blockClose    chan struct{}
}

func (f *fakeMQTT) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeMQTT) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.disconnects++
	block := f.blockClose
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return nil
}

func (f *fakeMQTT) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeMQTT) Publish(_ context.Context, topic string, _ int, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	if f.failTopic == topic {
		return errors.New("write failed")
	}
	f.publishes = append(f.publishes, published{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeMQTT) Subscribe(_ context.Context, topic string, _ int, _ mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, topic)
	return nil
}

func (f *fakeMQTT) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeMQTT) AwaitConnection(context.Context) error { return nil }

func (f *fakeMQTT) IsConnected() bool { return true }

func (f *fakeMQTT) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.publishes...)
}

// fakeFactory hands out fakeMQTT clients and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeMQTT
	prepare func(*fakeMQTT)
}

func (ff *fakeFactory) New(cfg *mqtt.ClientConfig) (mqtt.Client, error) {
	f := &fakeMQTT{cfg: cfg}
	if ff.prepare != nil {
		ff.prepare(f)
	}
	ff.mu.Lock()
	ff.clients = append(ff.clients, f)
	ff.mu.Unlock()
	return f, nil
}

func (ff *fakeFactory) last() *fakeMQTT {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.clients) == 0 {
		return nil
	}
	return ff.clients[len(ff.clients)-1]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.clients)
}
