package status

import (
	"context"
	"sort"

	"github.com/jveski/cracpack/internal/concurrency"
	"github.com/jveski/cracpack/internal/workflow"
)

// Entry is the latest snapshot of a target. Version starts at 1 and grows
// with every change of that target.
type Entry struct {
	Version  uint64            `toml:"version"`
	Snapshot workflow.Snapshot `toml:"snapshot"`
}

type Listing struct {
	Targets []*Entry `toml:"target"`
}

// Store collects the snapshots published by every pipeline.
type Store struct {
	state concurrency.StateContainer[map[string]*Entry]
}

func (s *Store) Observe(snap workflow.Snapshot) {
	s.state.Update(func(old map[string]*Entry) map[string]*Entry {
		next := make(map[string]*Entry, len(old)+1)
		for name, entry := range old {
			next[name] = entry
		}

		version := uint64(1)
		if prev, ok := old[snap.Target]; ok {
			version = prev.Version + 1
		}
		next[snap.Target] = &Entry{Version: version, Snapshot: snap}
		return next
	})
}

func (s *Store) Get(name string) (*Entry, bool) {
	all := s.state.Get()
	entry, ok := all[name]
	return entry, ok
}

// List returns every target ordered by name.
func (s *Store) List() []*Entry {
	all := s.state.Get()
	list := make([]*Entry, 0, len(all))
	for _, entry := range all {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Snapshot.Target < list[j].Snapshot.Target })
	return list
}

func (s *Store) Watch(ctx context.Context) <-chan struct{} { return s.state.Watch(ctx) }
