// Package progress publikuje stan przebiegów synchronizacji dla odpytujących portali.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateError
}

// Snapshot to niezmienna migawka stanu przebiegu; podmieniana w całości.
type Snapshot struct {
	State        State     `json:"state,omitempty"`
	Progress     int       `json:"progress"`
	Current      int       `json:"current"`
	Total        int       `json:"total"`
	Message      string    `json:"message,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	HistoryID    uint      `json:"history_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	ClientID     uint      `json:"client_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotFound to odpowiedź dla nieznanego albo usuniętego przebiegu.
func NotFound() Snapshot {
	return Snapshot{Error: "not found"}
}

// Percent = floor(100 * current / total); pusty przebieg to 100.
func Percent(current, total int) int {
	if total <= 0 {
		return 100
	}
	if current >= total {
		return 100
	}
	return 100 * current / total
}

// Tracker trzyma ostatnią migawkę każdego przebiegu (klucz: preview id).
// Zapis to atomowa podmiana wskaźnika, więc odczyt nie blokuje wykonawcy.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*atomic.Pointer[Snapshot]
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{runs: map[string]*atomic.Pointer[Snapshot]{}, now: time.Now}
}

func (t *Tracker) slot(id string) *atomic.Pointer[Snapshot] {
	t.mu.RLock()
	p, ok := t.runs[id]
	t.mu.RUnlock()
	if ok {
		return p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok = t.runs[id]; ok {
		return p
	}
	p = &atomic.Pointer[Snapshot]{}
	t.runs[id] = p
	return p
}

func (t *Tracker) Publish(id string, s Snapshot) {
	s.UpdatedAt = t.now()
	t.slot(id).Store(&s)
}

func (t *Tracker) Get(id string) (Snapshot, bool) {
	t.mu.RLock()
	p, ok := t.runs[id]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	s := p.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Prune usuwa zakończone przebiegi starsze niż keep; trwały stan jest w historii.
func (t *Tracker) Prune(keep time.Duration) int {
	cutoff := t.now().Add(-keep)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.runs {
		s := p.Load()
		if s != nil && s.State.Terminal() && s.UpdatedAt.Before(cutoff) {
			delete(t.runs, id)
			n++
		}
	}
	return n
}

// Running zwraca id przebiegów w stanie running.
func (t *Tracker) Running() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, p := range t.runs {
		if s := p.Load(); s != nil && s.State == StateRunning {
			out = append(out, id)
		}
	}
	return out
}
