// Package progress fans scan progress snapshots out to subscribers. The bus
// is an explicit, constructed component: each server owns one instance, and
// tests can create as many independent buses as they need.
package progress

import (
	"sync"

	"github.com/google/uuid"
)

// Scan phases, in the order a healthy run moves through them.
const (
	PhaseDiscovering = "discovering"
	PhaseScanning    = "scanning"
	PhaseMatching    = "matching"
	PhaseCleanup     = "cleanup"
	PhaseDone        = "done"
	PhaseError       = "error"
)

// Snapshot is one point-in-time view of a scan. Within a run, Processed only
// ever increases.
type Snapshot struct {
	LibraryID   int    `json:"library_id"`
	JobID       int    `json:"job_id"`
	Phase       string `json:"phase"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	CurrentFile string `json:"current_file,omitempty"`
	New         int    `json:"new"`
	Updated     int    `json:"updated"`
	Removed     int    `json:"removed"`
	Skipped     int    `json:"skipped"`
	Matched     int    `json:"matched"`
	Unmatched   int    `json:"unmatched"`
	Errors      int    `json:"errors"`
}

// Terminal reports whether the snapshot is the run's final one.
func (s Snapshot) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseError
}

type subscriber struct {
	id        string
	libraryID int
	ch        chan Snapshot
}

// subscriberBuffer bounds each subscriber's channel. A subscriber that falls
// behind misses intermediate snapshots rather than stalling the scan.
const subscriberBuffer = 16

// Bus delivers snapshots to subscribers keyed by library. Publishing never
// blocks; the latest snapshot per library is retained so a late subscriber
// immediately learns the current state.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	latest      map[int]Snapshot
}

func NewBus() *Bus {
	return &Bus{
		subscribers: map[string]*subscriber{},
		latest:      map[int]Snapshot{},
	}
}

// Subscribe registers interest in one library's snapshots. If a scan already
// published for that library, its most recent snapshot is delivered first.
// The returned id is the handle for Unsubscribe.
func (b *Bus) Subscribe(libraryID int) (string, <-chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:        uuid.NewString(),
		libraryID: libraryID,
		ch:        make(chan Snapshot, subscriberBuffer),
	}
	b.subscribers[sub.id] = sub

	if snapshot, ok := b.latest[libraryID]; ok {
		sub.ch <- snapshot
	}

	return sub.id, sub.ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown ids
// are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

// Publish records the snapshot as the library's latest and offers it to every
// subscriber of that library without blocking.
func (b *Bus) Publish(snapshot Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest[snapshot.LibraryID] = snapshot

	for _, sub := range b.subscribers {
		if sub.libraryID != snapshot.LibraryID {
			continue
		}
		select {
		case sub.ch <- snapshot:
		default:
			// Slow subscriber; it will catch up on the next snapshot.
		}
	}
}

// Latest returns the most recent snapshot for a library, if any scan has
// published one since the process started.
func (b *Bus) Latest(libraryID int) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot, ok := b.latest[libraryID]
	return snapshot, ok
}
