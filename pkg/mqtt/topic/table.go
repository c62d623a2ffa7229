package topic

import (
	"fmt"
	"strings"

	"github.com/autopeer-io/ridergate/internal/pkg/mqtt/paths"
)

// Entry binds a channel to its wire topic and category.
type Entry struct {
	Channel  Channel  `json:"channel" yaml:"channel"`
	Topic    string   `json:"topic" yaml:"topic"`
	Category Category `json:"category" yaml:"category"`
}

// Table is the immutable channel -> topic mapping for one root namespace.
type Table struct {
	root      string
	entries   []Entry
	byChannel map[Channel]Entry
	byTopic   map[string]Entry
}

var layout = []struct {
	channel  Channel
	segment  string
	category Category
}{
	{Status, paths.Status, CategoryStatus},
	{Battery, paths.StatusBattery, CategoryStatus},
	{IMU, paths.StatusIMU, CategoryStatus},
	{ImageResponse, paths.ResponseImageCapture, CategoryResponse},
	{ControlMovement, paths.ControlMovement, CategoryControl},
	{ControlSettings, paths.ControlSettings, CategoryControl},
	{ControlCamera, paths.ControlCamera, CategoryControl},
	{ControlSystem, paths.ControlSystem, CategoryControl},
	{RequestBattery, paths.RequestBattery, CategoryRequest},
	{RequestImage, paths.RequestImageCapture, CategoryRequest},
}

// NewTable builds the table under root. An empty root selects DefaultRoot.
func NewTable(root string) *Table {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultRoot
	}

	t := &Table{
		root:      root,
		entries:   make([]Entry, 0, len(layout)),
		byChannel: make(map[Channel]Entry, len(layout)),
		byTopic:   make(map[string]Entry, len(layout)),
	}
	for _, l := range layout {
		e := Entry{Channel: l.channel, Topic: root + "/" + l.segment, Category: l.category}
		t.entries = append(t.entries, e)
		t.byChannel[e.Channel] = e
		t.byTopic[e.Topic] = e
	}
	return t
}

// Root returns the namespace prefix.
func (t *Table) Root() string { return t.root }

// Topic returns the wire topic of ch.
func (t *Table) Topic(ch Channel) (string, bool) {
	e, ok := t.byChannel[ch]
	return e.Topic, ok
}

// Entry returns the full entry of ch.
func (t *Table) Entry(ch Channel) (Entry, error) {
	e, ok := t.byChannel[ch]
	if !ok {
		return Entry{}, fmt.Errorf("unknown channel %q", ch)
	}
	return e, nil
}

// Lookup resolves a received wire topic.
func (t *Table) Lookup(topic string) (Entry, bool) {
	e, ok := t.byTopic[topic]
	return e, ok
}

// Entries returns a copy of every entry in declaration order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Subscribed returns the entries the gateway subscribes to.
func (t *Table) Subscribed() []Entry {
	return t.filter(true)
}

// Published returns the entries the gateway publishes on.
func (t *Table) Published() []Entry {
	return t.filter(false)
}

func (t *Table) filter(inbound bool) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.Category.Inbound() == inbound {
			out = append(out, e)
		}
	}
	return out
}
