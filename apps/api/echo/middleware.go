package echoapi

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/user"
	metricsvc "github.com/trezcool/coursehub/services/metrics"
)

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.Role == user.RoleAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// metricsMiddleware records every request by route pattern, once its error has been handled.
func metricsMiddleware(m *metricsvc.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}
			m.ObserveHTTP(ctx.Path(), ctx.Request().Method, ctx.Response().Status, time.Since(start))
			return nil
		}
	}
}

const (
	maxTrackedClients = 10000
	clientIdleTTL     = time.Hour
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps a token bucket per client IP.
type ipRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*clientLimiter
	limit      rate.Limit
	burst      int
	maxClients int
	now        func() time.Time
}

// newIPRateLimiter allows perMinute requests per client, with bursts of up to burst requests.
func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:   make(map[string]*clientLimiter),
		limit:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      burst,
		maxClients: maxTrackedClients,
		now:        time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.maxClients {
			l.evict(now)
		}
		entry = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.lim.AllowN(now, 1)
}

// evict drops idle clients, or the least recently seen one when none is idle.
// Callers hold l.mu.
func (l *ipRateLimiter) evict(now time.Time) {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > clientIdleTTL {
			delete(l.limiters, ip)
			continue
		}
		if oldestIP == "" || entry.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, entry.lastSeen
		}
	}
	if len(l.limiters) >= l.maxClients && oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

func rateLimitMiddleware(l *ipRateLimiter, m *metricsvc.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !l.allow(ctx.RealIP()) {
				m.RateLimited(ctx.Path())
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

// newIPExtractor reads the client IP from the connection, unless the peer is one of the trusted proxies,
// in which case the nearest untrusted X-Forwarded-For entry is used.
func newIPExtractor(trustedProxies []string, logger core.Logger) echo.IPExtractor {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, proxy := range trustedProxies {
		ipNet, err := parseIPRange(proxy)
		if err != nil {
			logger.Warn(fmt.Sprintf("ignoring trusted proxy %q: %v", proxy, err), err)
			continue
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	if len(opts) == 3 {
		return echo.ExtractIPDirect()
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func parseIPRange(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, ipNet, err := net.ParseCIDR(s)
		return ipNet, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, errors.New("invalid IP address")
	}
	bits := 8 * net.IPv6len
	if ip4 := ip.To4(); ip4 != nil {
		ip, bits = ip4, 8*net.IPv4len
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}
