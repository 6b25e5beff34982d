package executor

import (
	"context"
	"sync/atomic"

	"github.com/bartek5186/catalog2erp/internal/repository"
)

const (
	tokenOpen int32 = iota
	tokenCancelled
	tokenSealed
)

// Token to flaga anulowania sprawdzana między pozycjami, nigdy w trakcie pozycji.
// Przed zapisem stanu końcowego przebieg zamyka token (Seal); późniejsze anulowanie już się nie uda.
type Token struct {
	state atomic.Int32
}

// Cancel ustawia flagę; zwraca false, gdy była już ustawiona albo token jest zamknięty.
func (t *Token) Cancel() bool { return t.state.CompareAndSwap(tokenOpen, tokenCancelled) }

func (t *Token) Cancelled() bool { return t.state.Load() == tokenCancelled }

// Seal zwraca false, jeśli anulowanie zdążyło przed zamknięciem.
func (t *Token) Seal() bool {
	return t.state.CompareAndSwap(tokenOpen, tokenSealed) || t.state.Load() == tokenSealed
}

type Result struct {
	Status   string
	Counters repository.Counters
	Err      error
}

// Run to uruchomiony przebieg; Done() zamyka się po zapisaniu stanu końcowego.
type Run struct {
	PreviewID    string
	HistoryID    uint
	ClientID     uint
	ConnectionID uint
	Total        int

	token  Token
	done   chan struct{}
	result Result
}

func newRun(previewID string, clientID uint, total int) *Run {
	return &Run{PreviewID: previewID, ClientID: clientID, Total: total, done: make(chan struct{})}
}

func (r *Run) Done() <-chan struct{} { return r.done }

// Result jest ważny dopiero po zamknięciu Done().
func (r *Run) Result() Result {
	<-r.done
	return r.result
}

func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Run) finish(res Result) {
	r.result = res
	close(r.done)
}
