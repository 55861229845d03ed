// Package memory provides in-memory ledger and datapoint stores for tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// Store implements crawl.LedgerStore and crawl.DatapointStore in memory.
type Store struct {
	mu         sync.Mutex
	evidence   []crawl.EvidenceRecord
	seen       map[string]struct{}
	datapoints []crawl.Datapoint
}

// New creates an empty Store.
func New() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// InsertEvidence appends a ledger row unless the (firm, key, hash) triple exists.
func (s *Store) InsertEvidence(_ context.Context, rec crawl.EvidenceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.FirmID + "\x00" + rec.Key + "\x00" + rec.ContentHash
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.evidence = append(s.evidence, rec)
	return true, nil
}

// InsertDatapoint appends a datapoint row.
func (s *Store) InsertDatapoint(_ context.Context, dp crawl.Datapoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datapoints = append(s.datapoints, dp)
	return nil
}

// LatestDatapoint returns the most recently created row for (firmID, key).
func (s *Store) LatestDatapoint(_ context.Context, firmID, key string) (crawl.Datapoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.datapoints) - 1; i >= 0; i-- {
		dp := s.datapoints[i]
		if dp.FirmID == firmID && dp.Key == key {
			return dp, nil
		}
	}
	return crawl.Datapoint{}, fmt.Errorf("no datapoint for %s/%s", firmID, key)
}

// Evidence returns a copy of all ledger rows (test helper).
func (s *Store) Evidence() []crawl.EvidenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawl.EvidenceRecord(nil), s.evidence...)
}

// Datapoints returns a copy of all datapoint rows (test helper).
func (s *Store) Datapoints() []crawl.Datapoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawl.Datapoint(nil), s.datapoints...)
}
