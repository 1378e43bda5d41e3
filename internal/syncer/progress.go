package syncer

import (
	"sync"
	"time"

	"prodsync/internal/store"
)

// Sync pipeline stages, in execution order.
const (
	StageInitializing      = "initializing"
	StageFetchingData      = "fetching_data"
	StageProcessingRecords = "processing_records"
	StageDownloadingImages = "downloading_images"
)

// Event is one progress tick of a run. The final event of a run carries the
// terminal status and full stats.
type Event struct {
	SyncID           string          `json:"syncId"`
	Status           string          `json:"status"`
	Stage            string          `json:"stage"`
	Percentage       int             `json:"percentage"`
	CurrentOperation string          `json:"currentOperation"`
	Stats            store.SyncStats `json:"stats"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Broadcaster fans progress events out to any number of subscribers with
// last-value semantics: a slow subscriber sees the freshest event, not a
// backlog, and a new subscriber immediately receives the latest state.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	last *Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned channel has a buffer of one
// and is primed with the last published event when one exists. The cancel
// function unregisters and closes the channel; it is safe to call twice.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}

	if b.last != nil {
		ch <- *b.last
	}
	b.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}

	return ch, cancel
}

// Publish delivers the event to every subscriber, replacing any stale
// undelivered event. Publish never blocks.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &ev

	for ch := range b.subs {
		// Drain the stale value, then deliver the fresh one.
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- ev:
		default:
		}
	}
}

// Last returns the most recently published event, or nil before the first.
func (b *Broadcaster) Last() *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return nil
	}

	ev := *b.last

	return &ev
}
