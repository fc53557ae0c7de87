package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/config"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// SecurityService implements a2a.SecurityService: it stamps outgoing
// messages with the process identity, signs them, and runs the four
// validation checks on the publish path.
type SecurityService struct {
	ids     *Service
	signer  *Signer
	policy  *Policy
	audit   *AuditLog
	trusted map[string]bool
	devMode bool
	skew    time.Duration
	logger  *logger.Logger
}

var _ a2a.SecurityService = (*SecurityService)(nil)

// NewSecurityService wires the identity, signing, and policy pieces into
// the service the bus consumes.
func NewSecurityService(cfg *config.Config, ids *Service, audit *AuditLog, log *logger.Logger) *SecurityService {
	trusted := make(map[string]bool)
	for _, account := range cfg.Security.TrustedAccounts() {
		trusted[account] = true
	}

	devMode := !cfg.IsProduction()
	if devMode {
		trusted[DevIdentity().Email] = true
	}

	return &SecurityService{
		ids:     ids,
		signer:  NewSigner(cfg.Security.SigningKey, cfg.Security.UsePBKDF2, cfg.Security.PBKDF2Iterations),
		policy:  NewPolicy(),
		audit:   audit,
		trusted: trusted,
		devMode: devMode,
		skew:    cfg.Bus.ClockSkewToleranceDuration(),
		logger:  log.Component("security"),
	}
}

// Enrich implements a2a.SecurityService.
func (s *SecurityService) Enrich(ctx context.Context, msg *a2a.Message) error {
	id := s.ids.CurrentIdentity(ctx)
	msg.Security.ServiceAccountID = id.Email
	msg.Security.Algorithm = s.signer.Algorithm()
	msg.Security.Signature = ""
	msg.Security.Verified = false

	canonical, err := msg.CanonicalBytes()
	if err != nil {
		return err
	}
	msg.Security.Signature = s.signer.Sign(canonical)
	return nil
}

// Validate implements a2a.SecurityService. The four checks are
// independent: every one runs regardless of earlier failures so the
// security score reflects the whole picture.
func (s *SecurityService) Validate(ctx context.Context, msg *a2a.Message) a2a.ValidationReport {
	report := a2a.ValidationReport{
		IdentityTrusted: true,
		SignatureValid:  true,
		SendAuthorised:  true,
		Fresh:           true,
	}

	// Check 1: sender identity is known and trusted.
	if !s.trusted[msg.Security.ServiceAccountID] {
		report.IdentityTrusted = false
		report.Issues = append(report.Issues, fmt.Sprintf("identity '%s' is not trusted", msg.Security.ServiceAccountID))
	}

	// Check 2: signature matches the canonical form.
	canonical, err := msg.CanonicalBytes()
	if err != nil {
		report.SignatureValid = false
		report.Issues = append(report.Issues, fmt.Sprintf("message cannot be canonicalised: %v", err))
	} else if !s.signer.Verify(canonical, msg.Security.Signature, msg.Security.Algorithm) {
		report.SignatureValid = false
		report.Issues = append(report.Issues, "signature does not match canonical form")
	}

	// Check 3: sender is authorised to address the recipient.
	if !s.policy.CanSend(msg.FromAgent, msg.ToAgent) {
		report.SendAuthorised = false
		report.Issues = append(report.Issues, fmt.Sprintf("'%s' is not authorised to send to '%s'", msg.FromAgent, msg.ToAgent))
	}

	// Check 4: timestamp is within tolerance and the TTL has not lapsed.
	now := time.Now()
	if msg.Expired(now, s.skew) {
		report.Fresh = false
		report.Issues = append(report.Issues, "message ttl has lapsed")
	} else if msg.Time().After(now.Add(s.skew)) {
		report.Fresh = false
		report.Issues = append(report.Issues, "message timestamp is in the future")
	}

	failed := 0
	for _, ok := range []bool{report.IdentityTrusted, report.SignatureValid, report.SendAuthorised, report.Fresh} {
		if !ok {
			failed++
		}
	}
	report.IsValid = failed == 0
	report.SecurityScore = 100 * (4 - failed) / 4
	return report
}

// Audit implements a2a.SecurityService.
func (s *SecurityService) Audit(record a2a.AuditRecord) {
	s.audit.Record(record)
}

// Authorised reports whether sender may address recipient under the
// static policy.
func (s *SecurityService) Authorised(sender, recipient string) bool {
	return s.policy.CanSend(sender, recipient)
}

// AuditTrail exposes the underlying audit log.
func (s *SecurityService) AuditTrail() *AuditLog {
	return s.audit
}
