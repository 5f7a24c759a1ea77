// Package history keeps the most recent analyses of each area in memory so
// later analyses can report anomalies and trends against them.
package history

import (
	"container/list"
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultDepth is the number of analyses kept per area when not configured.
	DefaultDepth = 4
	// DefaultMaxAreas is the number of areas kept when not configured.
	DefaultMaxAreas = 1000
)

// Snapshot is the part of a finished analysis later analyses compare to.
type Snapshot struct {
	AnalysisID    string
	At            time.Time
	AverageRisk   float64
	HighRiskCells int
	CellScores    map[string]float64
}

// Store is a bounded, concurrency-safe history keyed by area key. It keeps
// at most depth snapshots per area and forgets the least recently recorded
// area once more than maxAreas are held.
type Store struct {
	mu       sync.RWMutex
	depth    int
	maxAreas int
	order    *list.List // of *areaHistory, most recently recorded first
	byArea   map[string]*list.Element
}

type areaHistory struct {
	area      string
	snapshots []Snapshot
}

// NewStore creates a Store. Values below 1 mean 1.
func NewStore(depth, maxAreas int) *Store {
	return &Store{
		depth:    max(1, depth),
		maxAreas: max(1, maxAreas),
		order:    list.New(),
		byArea:   make(map[string]*list.Element),
	}
}

// Snapshots returns the stored snapshots of area, oldest first. The result
// is a copy.
func (s *Store) Snapshots(area string) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.byArea[area]
	if !ok {
		return nil
	}
	return slices.Clone(el.Value.(*areaHistory).snapshots)
}

// Record appends snap to the history of area, evicting the oldest snapshot
// beyond the depth and the stalest area beyond the area limit.
func (s *Store) Record(area string, snap Snapshot) {
	snap.CellScores = maps.Clone(snap.CellScores)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byArea[area]
	if !ok {
		el = s.order.PushFront(&areaHistory{area: area})
		s.byArea[area] = el
	} else {
		s.order.MoveToFront(el)
	}
	h := el.Value.(*areaHistory)
	h.snapshots = append(h.snapshots, snap)
	if len(h.snapshots) > s.depth {
		h.snapshots = slices.Clone(h.snapshots[len(h.snapshots)-s.depth:])
	}

	for s.order.Len() > s.maxAreas {
		stale := s.order.Back()
		s.order.Remove(stale)
		delete(s.byArea, stale.Value.(*areaHistory).area)
	}
}

// Areas returns the number of areas with history.
func (s *Store) Areas() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}
