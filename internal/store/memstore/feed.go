package memstore

import (
	"slices"
	"sync"

	"github.com/ashita-ai/turno/internal/store"
)

// feed fans snapshots of one entity out to subscribers. Writers offer their
// snapshot with the commit sequence they got under the store lock. The writer
// that finds the feed idle becomes the deliverer and keeps going until the
// newest offered snapshot is out; concurrent writers, and writes made from
// inside a subscriber, only leave theirs behind. Older snapshots are dropped.
type feed[T any] struct {
	mu         sync.Mutex
	nextID     int
	subs       map[int]func([]T)
	latest     []T
	latestSeq  uint64
	sentSeq    uint64
	delivering bool
}

func (f *feed[T]) subscribe(fn func([]T)) store.Unsubscribe {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]func([]T))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *feed[T]) offer(seq uint64, snap []T) {
	f.mu.Lock()
	if seq > f.latestSeq {
		f.latest, f.latestSeq = snap, seq
	}
	if f.delivering {
		f.mu.Unlock()
		return
	}
	f.delivering = true
	for f.sentSeq < f.latestSeq {
		cur, curSeq := f.latest, f.latestSeq
		fns := make([]func([]T), 0, len(f.subs))
		for _, fn := range f.subs {
			fns = append(fns, fn)
		}
		f.mu.Unlock()

		for _, fn := range fns {
			fn(slices.Clone(cur))
		}

		f.mu.Lock()
		f.sentSeq = curSeq
	}
	f.delivering = false
	f.mu.Unlock()
}
