package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	window   time.Duration
}

// Memory — лимитер в памяти процесса. Подходит для одной реплики.
// Ведро на ключ пополняется равномерно: limit токенов за window, ёмкость limit.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// MemoryOption настраивает Memory.
type MemoryOption func(*Memory)

// WithMemoryClock подменяет часы (тесты).
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory создаёт лимитер и запускает фоновую очистку простаивающих ключей
// с периодом cleanup (0 — без очистки). Остановка — Close.
func NewMemory(cleanup time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if cleanup > 0 {
		go m.cleanupLoop(cleanup)
	} else {
		close(m.done)
	}

	return m
}

// Allow расходует один токен из ведра key.
func (m *Memory) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	const op = "ratelimit.memory.Allow"

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := validate(limit, window); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now()
	every := rate.Every(window / time.Duration(limit))

	m.mu.Lock()
	defer m.mu.Unlock()

	// Один ключ может использоваться с разными лимитами: ведро зависит от пары.
	bk := key + "|" + strconv.Itoa(limit) + "|" + window.String()
	b, ok := m.buckets[bk]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(every, limit), window: window}
		m.buckets[bk] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: int(math.Floor(b.limiter.TokensAt(now))),
		}, nil
	}

	missing := 1 - b.limiter.TokensAt(now)
	retry := time.Duration(missing / float64(every) * float64(time.Second))
	if retry < time.Second {
		retry = time.Second
	}

	return Result{Allowed: false, Limit: limit, RetryAfter: retry}, nil
}

// size возвращает число отслеживаемых ведер.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Sweep удаляет ведра, не использовавшиеся дольше своего окна:
// к этому моменту они гарантированно полные.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > b.window {
			delete(m.buckets, k)
			removed++
		}
	}

	return removed
}

// Close останавливает фоновую очистку. Повторный вызов безопасен.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Memory) cleanupLoop(period time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

var _ Limiter = (*Memory)(nil)
