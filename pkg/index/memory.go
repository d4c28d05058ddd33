package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/mef/pkg/models"
)

type scope struct {
	kind   models.Kind
	source models.Source
}

type memoryScope struct {
	postings map[Term]map[string]bool
	terms    map[string][]Term
	updated  map[string]time.Time
}

// Memory is an in-process Index; writes are visible immediately.
type Memory struct {
	mu     sync.RWMutex
	scopes map[scope]*memoryScope
}

func NewMemory() *Memory {
	return &Memory{scopes: map[scope]*memoryScope{}}
}

func (m *Memory) scope(kind models.Kind, source models.Source) *memoryScope {
	s, ok := m.scopes[scope{kind, source}]
	if !ok {
		s = &memoryScope{
			postings: map[Term]map[string]bool{},
			terms:    map[string][]Term{},
			updated:  map[string]time.Time{},
		}
		m.scopes[scope{kind, source}] = s
	}
	return s
}

func (s *memoryScope) remove(pid string) {
	for _, t := range s.terms[pid] {
		delete(s.postings[t], pid)
		if len(s.postings[t]) == 0 {
			delete(s.postings, t)
		}
	}
	delete(s.terms, pid)
	delete(s.updated, pid)
}

func (m *Memory) Index(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scope(doc.Key.Kind, doc.Key.Source)
	pid := doc.Key.Pid
	s.remove(pid)
	terms := Terms(doc)
	for _, t := range terms {
		if s.postings[t] == nil {
			s.postings[t] = map[string]bool{}
		}
		s.postings[t][pid] = true
	}
	s.terms[pid] = terms
	s.updated[pid] = doc.Updated
	return nil
}

func (m *Memory) Remove(_ context.Context, key models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scope(key.Kind, key.Source).remove(key.Pid)
	return nil
}

func (m *Memory) Search(_ context.Context, kind models.Kind, source models.Source, field, value string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[scope{kind, source}]
	if !ok {
		return nil, nil
	}
	pids := make([]string, 0, len(s.postings[Term{field, value}]))
	for pid := range s.postings[Term{field, value}] {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	return pids, nil
}

func (m *Memory) UpdatedSince(_ context.Context, kind models.Kind, source models.Source, from time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[scope{kind, source}]
	if !ok {
		return nil, nil
	}
	var pids []string
	for pid, at := range s.updated {
		if !at.Before(from) {
			pids = append(pids, pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool {
		a, b := s.updated[pids[i]], s.updated[pids[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return pids[i] < pids[j]
	})
	return pids, nil
}

func (m *Memory) FlushAndRefresh(context.Context, models.Kind, models.Source) error { return nil }

func (m *Memory) Ping(context.Context) error { return nil }
