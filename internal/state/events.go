package state

import (
	"fmt"
	"sync"

	"github.com/autopeer-io/ridergate/pkg/log"
)

// Category selects which events a subscriber receives.
type Category string

const (
	CategoryBattery Category = "battery"
	CategoryIMU     Category = "imu"
	CategoryStatus  Category = "status"

	// CategoryAll receives every event after the category subscribers.
	CategoryAll Category = "all"
)

// ParseCategory validates s.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryBattery, CategoryIMU, CategoryStatus, CategoryAll:
		return c, nil
	}
	return "", fmt.Errorf("unknown event category %q", s)
}

// Event is a state change notification.
type Event interface {
	Category() Category
}

// BatteryEvent carries the new battery level.
type BatteryEvent struct {
	Level int `json:"level"`
}

// IMUEvent carries the full new attitude.
type IMUEvent struct {
	IMU
}

// StatusEvent carries the changed status fields only.
type StatusEvent struct {
	Changed StatusChange
}

func (BatteryEvent) Category() Category { return CategoryBattery }
func (IMUEvent) Category() Category     { return CategoryIMU }
func (StatusEvent) Category() Category  { return CategoryStatus }

// Handler observes events. A returned error is logged and does not stop delivery.
type Handler func(Event) error

// Subscription identifies a registered handler.
type Subscription struct {
	category Category
	id       uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers in registration order, on the
// publishing goroutine.
type Bus struct {
	logger log.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Category][]subscriber
}

// NewBus creates an empty bus.
func NewBus(logger log.Logger) *Bus {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[Category][]subscriber),
	}
}

// Subscribe registers h for category.
func (b *Bus) Subscribe(category Category, h Handler) (Subscription, error) {
	if _, err := ParseCategory(string(category)); err != nil {
		return Subscription{}, err
	}
	if h == nil {
		return Subscription{}, fmt.Errorf("nil handler for category %q", category)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[category] = append(b.subs[category], subscriber{id: b.nextID, handler: h})
	return Subscription{category: category, id: b.nextID}, nil
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.category]
	for i, sub := range list {
		if sub.id == s.id {
			b.subs[s.category] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers e to its category subscribers and then to CategoryAll.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := append([]subscriber(nil), b.subs[e.Category()]...)
	all := append([]subscriber(nil), b.subs[CategoryAll]...)
	b.mu.RUnlock()

	for _, s := range specific {
		b.invoke(s, e)
	}
	for _, s := range all {
		b.invoke(s, e)
	}
}

func (b *Bus) invoke(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Errorf("panic: %v", r), "State observer panicked", "category", e.Category())
		}
	}()

	if err := s.handler(e); err != nil {
		b.logger.Error(err, "State observer failed", "category", e.Category())
	}
}
