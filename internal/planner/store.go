package planner

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	p     *Preview
	taken bool
}

// Store trzyma zbudowane podglądy w pamięci do czasu wykonania albo wygaśnięcia.
// Podgląd można wykonać dokładnie raz.
type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]*entry
	now   func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{ttl: ttl, items: map[string]*entry{}, now: time.Now}
}

// Put nadaje id (jeśli brak) i termin ważności, zwraca id.
func (s *Store) Put(p *Preview) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.ExpiresAt = s.now().Add(s.ttl)
	s.items[p.ID] = &entry{p: p}
	return p.ID
}

func (s *Store) lookup(id string) (*entry, error) {
	e, ok := s.items[id]
	if !ok || s.now().After(e.p.ExpiresAt) {
		return nil, ErrPreviewNotFound
	}
	return e, nil
}

// Get zwraca kopię podglądu (także już wykonanego).
func (s *Store) Get(id string) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.p.clone(), nil
}

// Pending: podgląd istnieje i nie został jeszcze wykonany.
func (s *Store) Pending(id string) (*Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil || e.taken {
		return nil, false
	}
	return e.p.clone(), true
}

// Take oddaje podgląd do wykonania; drugie wywołanie zwraca ErrPreviewConsumed.
func (s *Store) Take(id string) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.taken {
		return nil, ErrPreviewConsumed
	}
	e.taken = true
	return e.p.clone(), nil
}

// Release cofa Take, gdy przebieg nie wystartował (np. klient zajęty).
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[id]; ok {
		e.taken = false
	}
}

// Exclude usuwa wskazane wiersze z niewykonanego podglądu i numeruje resztę od nowa.
// Usunięcie szablonu usuwa też jego warianty.
func (s *Store) Exclude(id string, seqs []int) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.taken {
		return nil, ErrPreviewConsumed
	}
	drop := map[int]bool{}
	for _, n := range seqs {
		drop[n] = true
	}
	droppedTemplates := map[int64]bool{}
	for _, r := range e.p.Rows {
		if drop[r.Seq] && !r.IsVariant() {
			droppedTemplates[r.ProductID] = true
		}
	}
	p := e.p.clone()
	rows := p.Rows[:0]
	for _, r := range p.Rows {
		if drop[r.Seq] || droppedTemplates[r.ProductID] {
			continue
		}
		r.Seq = len(rows) + 1
		rows = append(rows, r)
	}
	p.Rows = rows
	p.summarize()
	e.p = p
	return p.clone(), nil
}

// Expire usuwa przeterminowane podglądy i zwraca ich liczbę.
func (s *Store) Expire() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.items {
		if now.After(e.p.ExpiresAt) {
			delete(s.items, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
