package middleware

import (
	stdContext "context"
	"net"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-labs/warden_api/security"
	"github.com/aegis-labs/warden_api/services"
	"github.com/aegis-labs/warden_api/shared"
)

// GuardMiddleware is the admission gate every request passes through before
// reaching a handler: client address resolution, ban check, sliding-window
// rate limits, URL and User-Agent heuristics, and traffic counters. All
// store trouble degrades to admit-all through the circuit breaker.
type GuardMiddleware struct {
	context.DefaultService

	securitySvc   *services.SecurityService
	monitoringSvc *services.MonitoringService

	cfg      security.Config
	engine   *security.Engine
	limiter  *security.Limiter
	breaker  *security.Breaker
	trustNet []*net.IPNet
	trustIP  []net.IP
}

const GUARD_MIDDLEWARE_SVC = "guard"

const (
	reasonRateLimited    = "rate limit exceeded"
	reasonBucketLimited  = "endpoint rate limit exceeded"
	reasonURLPattern     = "suspicious url pattern"
	reasonShortUserAgent = "suspicious user agent"
	reasonBannedRetry    = "banned client retried"
)

func (svc GuardMiddleware) Id() string {
	return GUARD_MIDDLEWARE_SVC
}

func (svc *GuardMiddleware) Configure(ctx *context.Context) error {
	svc.securitySvc = ctx.Service(services.SECURITY_SVC).(*services.SecurityService)
	svc.monitoringSvc = ctx.Service(services.MONITORING_SVC).(*services.MonitoringService)
	return svc.DefaultService.Configure(ctx)
}

func (svc *GuardMiddleware) Start() error {
	return svc.init(svc.securitySvc.Config(), svc.securitySvc.Engine(), svc.securitySvc.Limiter(), svc.securitySvc.Breaker())
}

func (svc *GuardMiddleware) init(cfg security.Config, engine *security.Engine, limiter *security.Limiter, breaker *security.Breaker) error {
	svc.cfg = cfg
	svc.engine = engine
	svc.limiter = limiter
	svc.breaker = breaker

	for _, proxy := range svc.cfg.TrustedProxies {
		if strings.Contains(proxy, "/") {
			_, ipNet, err := net.ParseCIDR(proxy)
			if err != nil {
				return err
			}
			svc.trustNet = append(svc.trustNet, ipNet)
		} else {
			svc.trustIP = append(svc.trustIP, net.ParseIP(proxy))
		}
	}
	return nil
}

// Handler returns the admission handler. Check order matters: the ban flag
// is cheapest and must short-circuit before any limiter state is touched.
// A violation alone only scores a suspicion event and the request still goes
// through; the 403 comes when the score crosses the ban threshold.
func (svc *GuardMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		ip, ok := svc.clientIP(c)
		if !ok {
			return shared.ResponseBadRequest(c, "Unable to determine client address")
		}

		// Store down: skip every check, serve the request, still try to
		// close the breaker via its probe schedule.
		if !svc.breaker.Proceed(ctx) {
			svc.monitoringSvc.RecordAdmission("fail_open")
			return c.Next()
		}

		svc.engine.CountRequest(ctx)

		if svc.engine.IsBanned(ctx, ip) {
			// The notify guard makes this a no-op for the rest of the
			// episode, so a retry after an admin ban alerts exactly once.
			svc.engine.NotifyOnce(ctx, security.Alert{IP: ip, Reason: reasonBannedRetry})
			svc.monitoringSvc.RecordAdmission("banned")
			return shared.ResponseForbidden(c, "Access temporarily blocked")
		}

		if d := svc.limiter.AllowGlobal(ctx, ip); !d.Allowed {
			if svc.escalate(ctx, ip, reasonRateLimited) {
				return svc.reject(c, "rate_limited")
			}
		}

		if d := svc.limiter.AllowBucket(ctx, ip, c.Path()); !d.Allowed {
			if svc.escalate(ctx, ip, reasonBucketLimited) {
				return svc.reject(c, "rate_limited")
			}
		}

		if svc.suspiciousURL(c) {
			if svc.escalate(ctx, ip, reasonURLPattern) {
				return svc.reject(c, "suspicious")
			}
		}

		if len(c.Get(fiber.HeaderUserAgent)) < svc.cfg.MinUserAgentLen {
			if svc.escalate(ctx, ip, reasonShortUserAgent) {
				return svc.reject(c, "suspicious")
			}
		}

		svc.monitoringSvc.RecordAdmission("admitted")
		err := c.Next()

		if c.Response().StatusCode() >= 500 {
			svc.engine.CountError(ctx)
		}
		return err
	}
}

func (svc *GuardMiddleware) reject(c *fiber.Ctx, outcome string) error {
	svc.monitoringSvc.RecordAdmission(outcome)
	return shared.ResponseForbidden(c, "Access temporarily blocked")
}

// escalate records the suspicion event and reports whether it crossed the
// ban threshold. Only a crossing bans, alerts and blocks; below it the
// caller lets the request continue.
func (svc *GuardMiddleware) escalate(ctx stdContext.Context, ip, reason string) bool {
	score := svc.engine.MarkSuspicious(ctx, ip)
	log.WithFields(log.Fields{"ip": ip, "reason": reason, "score": score}).Debug("suspicion event")

	if score < svc.engine.Threshold() {
		return false
	}

	banned := security.CallSafely(svc.breaker, ctx, false, func(ctx stdContext.Context) (bool, error) {
		if err := svc.engine.BanNow(ctx, ip, reason, 0); err != nil {
			return false, err
		}
		return true, nil
	})
	if banned {
		svc.monitoringSvc.RecordBan()
		svc.engine.NotifyOnce(ctx, security.Alert{IP: ip, Reason: reason, Score: score})
	}
	return banned
}

// clientIP resolves the caller's address. X-Forwarded-For is honored only
// when the direct peer is a trusted proxy, otherwise the peer address wins.
func (svc *GuardMiddleware) clientIP(c *fiber.Ctx) (string, bool) {
	peer := net.ParseIP(c.IP())
	if peer == nil {
		return "", false
	}

	if !svc.trustedPeer(peer) {
		return peer.String(), true
	}

	forwarded := c.Get(fiber.HeaderXForwardedFor)
	if forwarded == "" {
		return peer.String(), true
	}

	// First hop in the chain is the original client.
	first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	ip := net.ParseIP(first)
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}

func (svc *GuardMiddleware) trustedPeer(peer net.IP) bool {
	for _, ip := range svc.trustIP {
		if ip != nil && ip.Equal(peer) {
			return true
		}
	}
	for _, ipNet := range svc.trustNet {
		if ipNet.Contains(peer) {
			return true
		}
	}
	return false
}

func (svc *GuardMiddleware) suspiciousURL(c *fiber.Ctx) bool {
	target := strings.ToLower(string(c.Request().URI().RequestURI()))
	for _, pattern := range svc.cfg.SuspiciousPatterns {
		if strings.Contains(target, pattern) {
			return true
		}
	}
	return false
}
