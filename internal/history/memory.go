package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/cmdhist/internal/errs"
)

// DefaultCommands seed the ownerless namespace of every MemoryStore.
var DefaultCommands = []string{
	"cd",
	"pwd",
	"echo hi",
	"cat /proc/cpuinfo",
}

type memorySpace struct {
	order   []string
	records map[string]*Record
}

// MemoryStore keeps records in process, in insertion order, one namespace
// per username. It is unpaged: only page 0 has data.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]*memorySpace
	now    func() time.Time
}

// NewMemoryStore returns a store seeded with DefaultCommands under the
// ownerless ("") namespace.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		owners: make(map[string]*memorySpace),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, cmd := range DefaultCommands {
		s.add(cmd, "", "", nil)
	}
	return s
}

func (s *MemoryStore) space(username string) *memorySpace {
	sp, ok := s.owners[username]
	if !ok {
		sp = &memorySpace{records: make(map[string]*Record)}
		s.owners[username] = sp
	}
	return sp
}

func (s *MemoryStore) Add(_ context.Context, command, username, host string, meta map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(command, username, host, meta), nil
}

func (s *MemoryStore) add(command, username, host string, meta map[string]any) string {
	id := ContentID(command)
	sp := s.space(username)
	clean := StripReserved(meta)

	if rec, exists := sp.records[id]; exists {
		for k, v := range clean {
			rec.Meta[k] = v
		}
		return id
	}

	sp.records[id] = &Record{
		ID:        id,
		Command:   command,
		Username:  username,
		Host:      host,
		Timestamp: s.now(),
		Meta:      clean,
	}
	sp.order = append(sp.order, id)
	return id
}

func (s *MemoryStore) Get(_ context.Context, id, username, _ string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.owners[username]
	if !ok {
		return nil, errs.New(errs.NotFound, "no such history item")
	}
	rec, ok := sp.records[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "no such history item")
	}
	c := cloneRecord(rec)
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, username, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.owners[username]
	if !ok {
		return errs.New(errs.NotFound, "no such history item")
	}
	if _, ok := sp.records[id]; !ok {
		return errs.New(errs.NotFound, "no such history item")
	}
	delete(sp.records, id)
	for i, existing := range sp.order {
		if existing == id {
			sp.order = append(sp.order[:i], sp.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) All(ctx context.Context, order Order, username, host string, page int) ([]Record, error) {
	return s.collect(order, username, page, func(*Record) bool { return true }), nil
}

// Filter matches by plain case-sensitive substring and keeps insertion
// order (or its mirror); there is no relevance ranking.
func (s *MemoryStore) Filter(ctx context.Context, term string, order Order, username, host string, page int) ([]Record, error) {
	return s.collect(order, username, page, func(r *Record) bool {
		return strings.Contains(r.Command, term)
	}), nil
}

func (s *MemoryStore) collect(order Order, username string, page int, keep func(*Record) bool) []Record {
	results := []Record{}
	if page != 0 {
		return results
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.owners[username]
	if !ok {
		return results
	}
	for _, id := range sp.order {
		rec := sp.records[id]
		if keep(rec) {
			results = append(results, cloneRecord(rec))
		}
	}
	if order == Reverse {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	return results
}

func (s *MemoryStore) Close() error {
	return nil
}
