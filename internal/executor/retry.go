package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bartek5186/catalog2erp/internal/remote"
)

type RetryConfig struct {
	MaxRetries     int           // ponowienia po pierwszej próbie
	InitialBackoff time.Duration // pierwsza przerwa
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64 // 0-1
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
}

// Retrier ponawia wywołania instancji klienta tylko przy błędach połączenia.
// Błąd zwrócony przez instancję (RemoteError) i odmowa dostępu nie są ponawiane.
type Retrier struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2
	}
	return &Retrier{cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrier) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(r.cfg.InitialBackoff) * math.Pow(r.cfg.BackoffFactor, float64(attempt))
	if r.cfg.Jitter > 0 {
		backoff += backoff * r.cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if r.cfg.MaxBackoff > 0 && backoff > float64(r.cfg.MaxBackoff) {
		backoff = float64(r.cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Do wykonuje fn, ponawiając ją przy remote.ConnectionError. Po wyczerpaniu prób
// zwraca ostatni błąd opakowany tak, że nadal jest ConnectionError.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		err = fn(ctx)
		if err == nil || !remote.IsConnection(err) {
			return attempts, err
		}
		if attempt >= r.cfg.MaxRetries {
			return attempts, fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
		}
		if serr := r.sleep(ctx, r.CalculateBackoff(attempt)); serr != nil {
			return attempts, err
		}
	}
}
