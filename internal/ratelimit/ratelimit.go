// ratelimit ограничивает частоту запросов по ключу (обычно "scope:ip").
//
// Реализации:
//   - Memory — token bucket (golang.org/x/time/rate) в памяти процесса;
//   - Redis — скользящее окно на sorted set, общее для всех реплик.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLimit — неположительные limit или window.
var ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")

// Result — решение лимитера по одному запросу.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter — через сколько стоит повторить запрос (только при отказе).
	RetryAfter time.Duration
}

// Limiter задаёт контракт лимитера: не больше limit запросов за window на ключ.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Close() error
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidLimit
	}

	return nil
}
