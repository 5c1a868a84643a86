package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// Rejection reasons recorded in the audit trail.
const (
	ReasonSecretNotConfigured = "secret_not_configured"
	ReasonSecretMismatch      = "secret_mismatch"
	ReasonSignatureMismatch   = "signature_mismatch"
	ReasonSignatureMalformed  = "signature_malformed"
	ReasonTimestampMalformed  = "timestamp_malformed"
	ReasonTimestampOutOfRange = "timestamp_out_of_range"
	ReasonIPMalformed         = "ip_malformed"
	ReasonIPNotAllowed        = "ip_not_allowed"
)

// Request carries everything the gate needs to decide, already lifted out of
// the HTTP layer. Body is the raw request body used for HMAC recomputation.
type Request struct {
	Provider   string
	PathSecret string
	Signature  string
	Timestamp  string
	CallerIP   string
	UserAgent  string
	WebhookID  string
	Body       []byte
}

// Gate evaluates the webhook security rules and records one audit entry per
// call, allowed or not.
type Gate struct {
	urlSecret       string
	signatureSecret string
	skew            time.Duration
	allowedNets     []netip.Prefix
	bypassIPCheck   bool
	enforceIPCheck  bool
	audits          storage.SecurityAuditRepository
	now             func() time.Time
}

// NewGate builds a gate from webhook configuration. CIDRs that fail to parse
// are logged and dropped rather than aborting startup.
func NewGate(cfg config.WebhookConfig, production bool, audits storage.SecurityAuditRepository) *Gate {
	nets := make([]netip.Prefix, 0, len(cfg.AllowedCIDRs))
	for _, cidr := range cfg.AllowedCIDRs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			logger.Log.Warn("Ignoring malformed CIDR in webhook allow-list",
				zap.String("cidr", cidr),
				zap.Error(err))
			continue
		}
		nets = append(nets, prefix)
	}

	skew := cfg.TimestampSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}

	return &Gate{
		urlSecret:       cfg.URLSecret,
		signatureSecret: cfg.SignatureSecret,
		skew:            skew,
		allowedNets:     nets,
		bypassIPCheck:   cfg.BypassIPCheck,
		enforceIPCheck:  production,
		audits:          audits,
		now:             utils.Now,
	}
}

// WithClock overrides the time source; used by tests to pin the timestamp
// window.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Authorize applies the rules in order: secret, signature, timestamp, IP. A
// secret failure short-circuits the rest; the remaining flags stay false in
// the audit entry. The audit entry is written before any decision is
// returned.
func (g *Gate) Authorize(ctx context.Context, req Request) error {
	loggerCtx := logger.FromContext(ctx)

	entry := &model.SecurityAuditEntry{
		Provider:  req.Provider,
		CallerIP:  req.CallerIP,
		UserAgent: req.UserAgent,
		WebhookID: req.WebhookID,
	}

	decision := func(reason string, err error) error {
		entry.Allowed = err == nil
		entry.RejectionReason = reason
		g.writeAudit(ctx, entry)
		if err != nil {
			observer.IncWebhookRequest(req.Provider, "deny", reason)
			loggerCtx.Warn("Webhook denied",
				zap.String("provider", req.Provider),
				zap.String("caller_ip", req.CallerIP),
				zap.String("reason", reason))
			return err
		}
		observer.IncWebhookRequest(req.Provider, "allow", "")
		return nil
	}

	// 1. Path secret. An unconfigured secret denies: secure by default.
	if g.urlSecret == "" {
		return decision(ReasonSecretNotConfigured, fmt.Errorf("%w: webhook url secret not configured", apperrors.ErrAuthentication))
	}
	if subtle.ConstantTimeCompare([]byte(req.PathSecret), []byte(g.urlSecret)) != 1 {
		return decision(ReasonSecretMismatch, fmt.Errorf("%w: invalid webhook secret", apperrors.ErrAuthentication))
	}
	entry.SecretValid = true

	// 2. Signature. Absence is valid; presence requires an exact HMAC match.
	if req.Signature == "" {
		entry.SignatureValid = true
	} else {
		ok, reason := g.verifySignature(req.Signature, req.Body)
		if !ok {
			return decision(reason, fmt.Errorf("%w: webhook signature verification failed", apperrors.ErrSecurityPolicy))
		}
		entry.SignatureValid = true
	}

	// 3. Timestamp. Absence is valid; presence must land within the skew
	// window in either direction.
	if req.Timestamp == "" {
		entry.TimestampValid = true
	} else {
		ok, reason := g.verifyTimestamp(req.Timestamp)
		if !ok {
			return decision(reason, fmt.Errorf("%w: webhook timestamp outside accepted window", apperrors.ErrSecurityPolicy))
		}
		entry.TimestampValid = true
	}

	// 4. Source IP.
	if !g.enforceIPCheck || g.bypassIPCheck {
		entry.IPAllowed = true
	} else {
		ok, reason := g.verifyIP(req.CallerIP)
		if !ok {
			return decision(reason, fmt.Errorf("%w: caller IP not allowed", apperrors.ErrSecurityPolicy))
		}
		entry.IPAllowed = true
	}

	return decision("", nil)
}

// VerifyPathSecret checks only the path-embedded secret, for the provider's
// endpoint liveness probe. No audit entry is written.
func (g *Gate) VerifyPathSecret(secret string) bool {
	if g.urlSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(g.urlSecret)) == 1
}

func (g *Gate) verifySignature(signature string, body []byte) (bool, string) {
	provided := strings.TrimPrefix(signature, "sha256=")
	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return false, ReasonSignatureMalformed
	}

	mac := hmac.New(sha256.New, []byte(g.signatureSecret))
	mac.Write(body)
	if !hmac.Equal(providedBytes, mac.Sum(nil)) {
		return false, ReasonSignatureMismatch
	}
	return true, ""
}

func (g *Gate) verifyTimestamp(raw string) (bool, string) {
	var ts time.Time
	if unix, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
		ts = time.Unix(unix, 0)
	} else if parsed, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(raw)); parseErr == nil {
		ts = parsed
	} else {
		return false, ReasonTimestampMalformed
	}

	delta := g.now().Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > g.skew {
		return false, ReasonTimestampOutOfRange
	}
	return true, ""
}

func (g *Gate) verifyIP(callerIP string) (bool, string) {
	addr, err := netip.ParseAddr(strings.TrimSpace(callerIP))
	if err != nil {
		return false, ReasonIPMalformed
	}
	addr = addr.Unmap()

	for _, prefix := range g.allowedNets {
		if prefix.Contains(addr) {
			return true, ""
		}
	}
	return false, ReasonIPNotAllowed
}

// writeAudit never fails the gate decision: a lost audit row is logged, not
// turned into a 5xx for the provider.
func (g *Gate) writeAudit(ctx context.Context, entry *model.SecurityAuditEntry) {
	if g.audits == nil {
		return
	}
	if err := g.audits.SaveSecurityAudit(ctx, entry); err != nil {
		logger.FromContext(ctx).Error("Failed to persist security audit entry",
			zap.String("provider", entry.Provider),
			zap.Error(err))
	}
}
