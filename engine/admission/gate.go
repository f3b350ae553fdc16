// Package admission implements the HTTP frontdoor: CORS, per-IP rate
// limiting, bearer auth for privileged routes, and path-level input
// validation, applied in that fixed order to every request.
package admission

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/philippdubach/hn-archiver-go/pkg/mid"
	"github.com/philippdubach/hn-archiver-go/pkg/resilience"
)

const (
	// RateLimitRequests is the per-IP token bucket capacity and 60s refill.
	RateLimitRequests = 100
	RateLimitWindow    = 60 * time.Second

	// rateLimiterReapAge evicts per-IP buckets idle longer than this, so
	// the table doesn't grow without bound across the process lifetime.
	rateLimiterReapAge = 10 * time.Minute
)

// privilegedPrefixes are the route prefixes that require bearer auth.
var privilegedPrefixes = []string{"/trigger/", "/api/similar/", "/api/compute-topic-similarity"}

// Config configures a Gate.
type Config struct {
	AllowedOrigins []string // production domain + localhost dev origin
	AuthSecret     string   // empty means auth is not configured — fail closed on privileged routes
}

// Gate is the ordered admission chain: CORS, then per-IP rate limit,
// then bearer auth on privileged routes, then path validation left to
// the handler (ValidateItemID/ValidateSince/ClampLimit in engine/domain).
type Gate struct {
	cfg      Config
	limiters sync.Map // forwarded-for string -> *limiterEntry
}

type limiterEntry struct {
	limiter    *resilience.Limiter
	lastSeenMu sync.Mutex
	lastSeen   time.Time
}

// NewGate builds a Gate from cfg. It starts no goroutine: idle per-IP
// entries are evicted only when Reap is called.
func NewGate(cfg Config) *Gate {
	g := &Gate{cfg: cfg}
	return g
}

// Wrap composes the three gate-check middlewares around next via
// pkg/mid.Chain, the same composition the teacher uses for
// mid.Recover/mid.Logger/mid.CORS in cmd/api/main.go. Path-level input
// validation, the fourth gate, is left to individual handlers
// (domain.ValidateItemID/ValidateSince/ClampLimit).
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return mid.Chain(next, g.corsMiddleware, g.rateLimitMiddleware, g.authMiddleware)
}

func (g *Gate) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.corsAllowed(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.rateLimitAllowed(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.authAllowed(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsAllowed applies gate 1. Only non-GET requests with a set,
// disallowed Origin header are rejected.
func (g *Gate) corsAllowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	writeJSONError(w, http.StatusForbidden, "CORS not allowed")
	return false
}

// rateLimitAllowed applies gate 2. Requests with no forwarded-for header
// fall through ungated — there is no per-IP identity to key on.
func (g *Gate) rateLimitAllowed(w http.ResponseWriter, r *http.Request) bool {
	ip := forwardedFor(r)
	if ip == "" {
		return true
	}

	entry := g.entryFor(ip)
	if !entry.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

func (g *Gate) entryFor(ip string) *limiterEntry {
	now := time.Now()
	if v, ok := g.limiters.Load(ip); ok {
		e := v.(*limiterEntry)
		e.lastSeenMu.Lock()
		e.lastSeen = now
		e.lastSeenMu.Unlock()
		return e
	}

	e := &limiterEntry{
		limiter: resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  float64(RateLimitRequests) / RateLimitWindow.Seconds(),
			Burst: RateLimitRequests,
		}),
		lastSeen: now,
	}
	actual, _ := g.limiters.LoadOrStore(ip, e)
	return actual.(*limiterEntry)
}

// Reap evicts rate-limit entries idle longer than rateLimiterReapAge. A
// caller runs this periodically (e.g. from the Scheduler's 2-hour tick);
// the table is otherwise unbounded, never shrinking on its own.
func (g *Gate) Reap() {
	cutoff := time.Now().Add(-rateLimiterReapAge)
	g.limiters.Range(func(key, value any) bool {
		e := value.(*limiterEntry)
		e.lastSeenMu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.lastSeenMu.Unlock()
		if stale {
			g.limiters.Delete(key)
		}
		return true
	})
}

// authAllowed applies gate 3: bearer auth for privileged routes only.
func (g *Gate) authAllowed(w http.ResponseWriter, r *http.Request) bool {
	if !isPrivileged(r.URL.Path) {
		return true
	}

	if g.cfg.AuthSecret == "" {
		writeJSONErrorWithMessage(w, http.StatusServiceUnavailable, "Server configuration error", "Authentication not configured")
		return false
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.AuthSecret)) != 1 {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

func isPrivileged(path string) bool {
	for _, prefix := range privilegedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// forwardedFor extracts the client IP from X-Forwarded-For, taking the
// first hop in the chain. Returns "" when the header is absent — there
// is no trustworthy per-client identity to key a rate limiter on, and
// rateLimitAllowed treats "" as "let the request through ungated."
func forwardedFor(r *http.Request) string {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return ""
	}
	parts := strings.Split(fwd, ",")
	return strings.TrimSpace(parts[0])
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSONErrorWithMessage(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": errMsg, "message": message})
}
