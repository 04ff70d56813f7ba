package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"toastd/pkg/apperr"
	logx "toastd/pkg/logx"
)

const (
	requestIDHeader   = "X-Request-Id"
	profileIDHeader   = "X-Profile-Id"
	displayNameHeader = "X-Display-Name"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

// Identity is the caller as asserted by the upstream gateway.
type Identity struct {
	ProfileID   string
	DisplayName string
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestLogger(r *http.Request, log logx.Logger) logx.Logger {
	if r == nil {
		return log
	}
	if id := requestIDFrom(r.Context()); id != "" {
		return log.With(logx.String("request_id", id))
	}
	return log
}

func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestLogger(r, log).Error("panic recovered", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
					writeError(w, r, log, apperr.Internal(fmt.Errorf("panic: %v", rec), "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func accessLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			requestLogger(r, log).Info("request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", rec.status),
				logx.Int("bytes", rec.bytes),
				logx.Duration("took", time.Since(start)),
				logx.String("remote", clientIP(r)),
			)
		})
	}
}

// requireIdentity rejects requests without a profile id.
func requireIdentity(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pid := strings.TrimSpace(r.Header.Get(profileIDHeader))
			if pid == "" {
				writeError(w, r, log, apperr.New(apperr.CodeUnauthorized, "missing "+profileIDHeader))
				return
			}
			id := Identity{ProfileID: pid, DisplayName: strings.TrimSpace(r.Header.Get(displayNameHeader))}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// ipLimiter is a token bucket per client address. Buckets idle for longer
// than idleTTL are swept lazily.
type ipLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	buckets map[string]*ipBucket
	swept   time.Time
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perSec int) *ipLimiter {
	if perSec <= 0 {
		return nil
	}
	return &ipLimiter{
		rps:     rate.Limit(perSec),
		burst:   perSec,
		idleTTL: 5 * time.Minute,
		now:     time.Now,
		buckets: map[string]*ipBucket{},
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b := l.buckets[ip]
	if b == nil {
		b = &ipBucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func rateLimit(l *ipLimiter, log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, r, log, apperr.New(apperr.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
