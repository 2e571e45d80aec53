package sandbox

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per client
type RateLimiter struct {
	clients map[string]*ClientLimiter
	mutex   sync.Mutex
	rate    rate.Limit
	burst   int
}

// ClientLimiter is the bucket of one client
type ClientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling r tokens per second up to b
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ClientLimiter),
		rate:    r,
		burst:   b,
	}
}

// Allow reports whether clientID may make a request now
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	client, ok := rl.clients[clientID]
	if !ok {
		client = &ClientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientID] = client
	}
	client.lastSeen = time.Now()
	return client.limiter.Allow()
}

// Cleanup removes clients idle for longer than maxIdle and returns how many
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	removed := 0
	for clientID, client := range rl.clients {
		if time.Since(client.lastSeen) > maxIdle {
			delete(rl.clients, clientID)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.clients)
}

// ClientIdentifier derives a stable client id from the caller address and
// bearer token. The token is hashed so it never lands in memory as a map key.
func ClientIdentifier(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ip = realIP
	} else if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	identifiers := []string{"ip:" + ip}
	if auth := r.Header.Get("Authorization"); auth != "" {
		hash := sha256.Sum256([]byte(auth))
		identifiers = append(identifiers, "auth:"+fmt.Sprintf("%x", hash)[:8])
	}

	finalHash := sha256.Sum256([]byte(strings.Join(identifiers, "|")))
	return fmt.Sprintf("%x", finalHash)[:16]
}

// RateLimitMiddleware answers 429 once a client exhausts its bucket
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIdentifier(r)) {
				w.Header().Set("Retry-After", "1")
				middleware.RespondRateLimited(w, fmt.Errorf("rate limit exceeded"), utils.RequestID(w, r))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
