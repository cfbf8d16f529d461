// Package memory provides an in-memory finding store for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

// Store is a mutex-guarded map implementation of posture.FindingStore.
type Store struct {
	mu      sync.RWMutex
	records map[posture.RecordKey]posture.Record
}

var _ posture.FindingStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[posture.RecordKey]posture.Record)}
}

// Put writes or overwrites the record under key.
func (s *Store) Put(_ context.Context, key posture.RecordKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.records[key] = posture.Record{Key: key, Payload: buf, UpdatedAt: time.Now().UTC()}
	return nil
}

// Get returns the record payload or posture.ErrRecordNotFound.
func (s *Store) Get(_ context.Context, key posture.RecordKey) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, posture.ErrRecordNotFound
	}
	buf := make([]byte, len(rec.Payload))
	copy(buf, rec.Payload)
	return buf, nil
}

// List returns every record under the job prefix.
func (s *Store) List(_ context.Context, jobID uuid.UUID) ([]posture.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []posture.Record
	for key, rec := range s.records {
		if key.JobID == jobID {
			buf := make([]byte, len(rec.Payload))
			copy(buf, rec.Payload)
			out = append(out, posture.Record{Key: rec.Key, Payload: buf, UpdatedAt: rec.UpdatedAt})
		}
	}
	return out, nil
}

// DeleteTransient removes findings, markers, and policy snapshots for the job.
func (s *Store) DeleteTransient(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.records {
		if key.JobID == jobID && key.Transient() {
			delete(s.records, key)
		}
	}
	return nil
}

// Len reports the number of stored records, for test assertions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
