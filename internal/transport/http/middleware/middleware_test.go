package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/ratelimit"
	"github.com/pribylovaa/cinelog-auth/internal/service"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/csrf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// capHandler — тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any;
//   - не создаёт реальных I/O, чтобы не паниковать в тестах.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)

	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) > 0 {
		h.base = append(h.base, attrs...)
	}

	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errEnvelope struct {
	Error apiError `json:"error"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_Order(t *testing.T) {
	order := []string{}

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m1-end")
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m2-end")
		})
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(final, m1, m2)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodGet, "/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	t.Parallel()

	var seenID, seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get("X-Request-Id")
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq(http.MethodGet, "/rid"))

	respID := rr.Header().Get("X-Request-Id")
	require.Len(t, respID, 32) // 16 байт → 32 hex-символа
	require.Equal(t, respID, seenID)
	require.Equal(t, respID, seenCtxID)
}

func TestRequestID_UseExisting(t *testing.T) {
	t.Parallel()

	const given = "abc123-existing_id"
	var seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/rid2")
	req.Header.Set("X-Request-Id", given)
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get("X-Request-Id"))
	require.Equal(t, given, seenCtxID)
}

func TestRequestID_ReplacesUnsafe(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"has space", "new\nline", strings.Repeat("a", 65)} {
		rr := httptest.NewRecorder()
		req := makeReq(http.MethodGet, "/rid3")
		req.Header.Set("X-Request-Id", bad)
		Chain(okHandler, RequestID()).ServeHTTP(rr, req)

		require.Len(t, rr.Header().Get("X-Request-Id"), 32)
	}
}

type stubAuth struct {
	want string
	uid  uuid.UUID
}

func (s stubAuth) Authenticate(_ context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, fmt.Errorf("stub: %w", service.ErrNotAuthenticated)
	}
	if token != s.want {
		return uuid.Nil, fmt.Errorf("stub: %w: %w", service.ErrNotAuthenticated, service.ErrInvalidToken)
	}
	return s.uid, nil
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	a := stubAuth{want: "good", uid: uuid.New()}

	var seen uuid.UUID
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	chain := Chain(h, RequireAuth(a))

	// Cookie.
	rr := httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/me")
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "good"})
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, a.uid, seen)

	// Bearer.
	seen = uuid.Nil
	rr = httptest.NewRecorder()
	req = makeReq(http.MethodGet, "/me")
	req.Header.Set("Authorization", "Bearer good")
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, a.uid, seen)

	// Нет токена.
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodGet, "/me"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", decodeErr(t, rr).Code)

	// Невалидный токен и не-Bearer схема.
	rr = httptest.NewRecorder()
	req = makeReq(http.MethodGet, "/me")
	req.Header.Set("Authorization", "Basic good")
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	req = makeReq(http.MethodGet, "/me")
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "bad"})
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", decodeErr(t, rr).Code)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	t.Parallel()

	var hasDeadline bool
	var left time.Duration

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl, ok := r.Context().Deadline()
		hasDeadline = ok
		if ok {
			left = time.Until(dl)
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(rr, makeReq(http.MethodGet, "/timeout"))

	require.True(t, hasDeadline)
	require.Greater(t, left, time.Duration(0))
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()

	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := makeReq(http.MethodGet, "/timeout2").WithContext(parent)

	rr := httptest.NewRecorder()
	Chain(h, Timeout(time.Second)).ServeHTTP(rr, req)

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	t.Parallel()

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(panicHandler, Recover()).ServeHTTP(rr, makeReq(http.MethodGet, "/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.NotContains(t, rr.Body.String(), "boom")

	e := decodeErr(t, rr)
	require.Equal(t, "internal", e.Code)
	require.NotEmpty(t, e.Message)
}

func TestLogging_WritesRecord_WithStatusDurBytesAndRequestID(t *testing.T) {
	h := &capHandler{}
	logger := slog.New(h)

	const rid = "rid-456"
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Не вызываем WriteHeader — статус должен стать 200 после Write.
		_, _ = w.Write([]byte("0123456789")) // 10 байт
	})

	// Порядок важен: RequestID до Logging, чтобы id попал в attrs лога.
	handler := Chain(final, RequestID(), Logging(logger))

	rr := httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/log")
	req.Header.Set("X-Request-Id", rid)
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.count)
	require.Equal(t, "http_request", h.lastMsg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)

	method, _ := h.attrs["method"].(string)
	path, _ := h.attrs["path"].(string)
	status, _ := h.attrs["status"].(int64) // slog хранит числа как int64
	bytes, _ := h.attrs["bytes"].(int64)
	ridAttr, _ := h.attrs["request_id"].(string)
	ip, _ := h.attrs["ip"].(string)

	require.Equal(t, http.MethodGet, method)
	require.Equal(t, "/log", path)
	require.EqualValues(t, http.StatusOK, status)
	require.EqualValues(t, 10, bytes)
	require.Equal(t, rid, ridAttr)
	require.Equal(t, "127.0.0.1", ip)

	_, hasDur := h.attrs["dur"]
	require.True(t, hasDur)
	require.Equal(t, "unmatched", h.attrs["route"])
}

func TestLogging_LevelByStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusBadRequest, slog.LevelInfo},
		{http.StatusUnauthorized, slog.LevelWarn},
		{http.StatusForbidden, slog.LevelWarn},
		{http.StatusTooManyRequests, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			h := &capHandler{}
			final := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			})

			Chain(final, Logging(slog.New(h))).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodPost, "/auth/login"))

			require.Equal(t, tc.want, h.lastLvl)
		})
	}
}

func TestLogging_DownstreamRecordsCarryRequestIDAndIP(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.From(r.Context()).Warn("refresh_reuse_detected")
		require.Equal(t, "refresh_reuse_detected", h.lastMsg)
		require.Equal(t, "rid-789", h.attrs["request_id"])
		require.Equal(t, "127.0.0.1", h.attrs["ip"])
		w.WriteHeader(http.StatusUnauthorized)
	})

	req := makeReq(http.MethodPost, "/auth/refresh")
	req.Header.Set("X-Request-Id", "rid-789")
	Chain(final, RequestID(), Logging(slog.New(h))).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, h.count)
}

func TestLogging_OmitsQuery(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	Chain(okHandler, Logging(slog.New(h))).ServeHTTP(httptest.NewRecorder(),
		makeReq(http.MethodGet, "/auth/verify-email?token=secret-token"))

	require.Equal(t, "/auth/verify-email", h.attrs["path"])
	for _, v := range h.attrs {
		require.NotContains(t, fmt.Sprint(v), "secret-token")
	}
}

func TestTimeout_ShortensLaterDeadline(t *testing.T) {
	t.Parallel()

	var childDL time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	parent, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(),
		makeReq(http.MethodGet, "/timeout3").WithContext(parent))

	require.WithinDuration(t, time.Now(), childDL, time.Second)
}

func TestTimeout_LogsOverrun(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	req := makeReq(http.MethodGet, "/slow")
	req = req.WithContext(log.Into(req.Context(), slog.New(h)))
	Chain(slow, Timeout(10*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "request_timeout", h.lastMsg)
	require.Equal(t, slog.LevelWarn, h.lastLvl)
	require.Equal(t, "/slow", h.attrs["path"])
}

func TestTimeout_NoLogWhenInTime(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	req := makeReq(http.MethodGet, "/fast")
	req = req.WithContext(log.Into(req.Context(), slog.New(h)))
	Chain(okHandler, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), req)

	require.Zero(t, h.count)
}

func TestRecover_AfterResponseStarted(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	partial := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("late boom")
	})

	req := makeReq(http.MethodGet, "/partial")
	req = req.WithContext(log.Into(req.Context(), slog.New(h)))
	rr := httptest.NewRecorder()
	Chain(partial, Recover()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "partial", rr.Body.String())
	require.Equal(t, "panic_recovered", h.lastMsg)
	require.Equal(t, "late boom", h.attrs["reason"])
	require.NotEmpty(t, h.attrs["stack"])
}

func TestRecover_RepanicsAbortHandler(t *testing.T) {
	t.Parallel()

	abort := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Chain(abort, Recover()).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/abort"))
	})
}

func TestStatusWriter_CountsBytes_AndDefaultStatus200(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)
	require.Equal(t, http.StatusOK, sw.Status())

	_, _ = sw.Write([]byte("abcd"))

	require.Equal(t, http.StatusOK, sw.status)
	require.Equal(t, 4, sw.count)
}

func TestSecureHeaders(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Chain(okHandler, SecureHeaders(false)).ServeHTTP(rr, makeReq(http.MethodGet, "/"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	Chain(okHandler, SecureHeaders(true)).ServeHTTP(rr, makeReq(http.MethodGet, "/"))
	require.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestCSRF(t *testing.T) {
	t.Parallel()

	p := csrf.New("cookie-secret")
	tok, err := p.Issue()
	require.NoError(t, err)

	chain := Chain(okHandler, CSRF(p))

	// GET без токена проходит.
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodGet, "/x"))
	require.Equal(t, http.StatusOK, rr.Code)

	// POST без токена — 403.
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodPost, "/x"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "csrf_failed", decodeErr(t, rr).Code)

	// Только cookie — 403.
	rr = httptest.NewRecorder()
	req := makeReq(http.MethodPost, "/x")
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: tok})
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Cookie + header — проходит.
	rr = httptest.NewRecorder()
	req = makeReq(http.MethodPost, "/x")
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: tok})
	req.Header.Set(csrf.HeaderName, tok)
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	// Выключенная проверка.
	rr = httptest.NewRecorder()
	Chain(okHandler, CSRF(nil)).ServeHTTP(rr, makeReq(http.MethodPost, "/x"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewMemory(0)
	t.Cleanup(func() { _ = l.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	chain := Chain(okHandler, RateLimit(l, "login", 2, time.Hour, m))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, makeReq(http.MethodPost, "/login"))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "2", rr.Header().Get("RateLimit-Limit"))
	}

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodPost, "/login"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "rate_limited", decodeErr(t, rr).Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.NotEqual(t, "60", rr.Header().Get("Retry-After"))

	// Другой клиент не затронут.
	rr = httptest.NewRecorder()
	req := makeReq(http.MethodPost, "/login")
	req.RemoteAddr = "10.0.0.9:5555"
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func (failingLimiter) Close() error { return nil }

func TestRateLimit_BackendFailureIs500(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Chain(okHandler, RateLimit(failingLimiter{}, "login", 2, time.Hour, nil)).
		ServeHTTP(rr, makeReq(http.MethodPost, "/login"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "internal", decodeErr(t, rr).Code)
}

func TestMetrics_ObservesRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/users/{id}", okHandler)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, makeReq(http.MethodGet, "/users/42"))
	require.Equal(t, http.StatusOK, rr.Code)

	n, err := testutil.GatherAndCount(reg, "cinelog_http_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := makeReq(http.MethodGet, "/")
	require.Equal(t, "127.0.0.1", ClientIP(req))

	req.RemoteAddr = "203.0.113.7"
	require.Equal(t, "203.0.113.7", ClientIP(req))
}
