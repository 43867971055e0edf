package builder

import (
	"sync"

	"github.com/tobsdb/tdb/pkg"
)

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
	// a watched path changed value
	EventChange EventType = "change"
)

type Event struct {
	Type  EventType
	Table string
	Pk    any
	Row   Row
	// the row before an update; nil for inserts
	Old Row

	// set on change events
	Path     string
	Value    any
	OldValue any
}

type Handler func(Event)

type subscription struct {
	table string
	// empty for table wide subscriptions
	path string
	fn   Handler
}

// EventBus delivers row events synchronously, in subscription order.
type EventBus struct {
	locker sync.RWMutex
	next   int
	subs   pkg.Map[int, subscription]
	order  []int
}

func (b *EventBus) GetLocker() *sync.RWMutex { return &b.locker }

func NewEventBus() *EventBus {
	return &EventBus{subs: pkg.Map[int, subscription]{}}
}

func (b *EventBus) add(s subscription) func() {
	var id int
	pkg.LockWrap(b, func() {
		b.next++
		id = b.next
		b.subs.Set(id, s)
		b.order = append(b.order, id)
	})
	return func() {
		pkg.LockWrap(b, func() {
			b.subs.Delete(id)
			b.order = pkg.Filter(b.order, func(i int) bool { return i != id })
		})
	}
}

// Subscribe receives every upsert and delete on table. The returned func
// removes the subscription.
func (b *EventBus) Subscribe(table string, fn Handler) func() {
	return b.add(subscription{table: table, fn: fn})
}

// Watch receives change events for one column path of table.
func (b *EventBus) Watch(table, path string, fn Handler) func() {
	return b.add(subscription{table: table, path: path, fn: fn})
}

// WatchedPaths lists the paths of table that have watchers.
func (b *EventBus) WatchedPaths(table string) []string {
	b.locker.RLock()
	defer b.locker.RUnlock()
	paths := []string{}
	seen := pkg.Map[string, bool]{}
	for _, id := range b.order {
		s := b.subs[id]
		if s.table == table && len(s.path) > 0 && !seen.Has(s.path) {
			seen.Set(s.path, true)
			paths = append(paths, s.path)
		}
	}
	return paths
}

func (b *EventBus) Emit(e Event) {
	b.locker.RLock()
	targets := []Handler{}
	for _, id := range b.order {
		s := b.subs[id]
		if s.table != e.Table {
			continue
		}
		if (e.Type == EventChange) == (len(s.path) > 0) && (len(s.path) == 0 || s.path == e.Path) {
			targets = append(targets, s.fn)
		}
	}
	b.locker.RUnlock()

	for _, fn := range targets {
		fn(e)
	}
}
