package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/notify"
)

// tokenBytes is the entropy of a confirmation token (hex-encoded to 40 chars).
const tokenBytes = 20

// ResolveResult is what a principal sees after using a confirmation link.
type ResolveResult struct {
	Phase  domain.Phase `json:"phase"`
	DealID uuid.UUID    `json:"deal_id"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ApprovalService
// ──────────────────────────────────────────────────────────────────────────────

// ApprovalService runs the two-party handshake between TRANSPORT_AGREED and
// APPROVED.
type ApprovalService struct {
	dealMutator
	tokens   TokenStore
	notifier notify.Notifier
	baseURL  string
	logger   *slog.Logger
	metrics  engineMetrics
}

// NewApprovalService creates an ApprovalService. baseURL prefixes the
// confirmation links sent to each principal.
func NewApprovalService(
	deals DealStore,
	tokens TokenStore,
	locker Locker,
	notifier notify.Notifier,
	baseURL string,
	logger *slog.Logger,
) *ApprovalService {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &ApprovalService{
		dealMutator: newDealMutator(deals, locker),
		tokens:      tokens,
		notifier:    notifier,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
		metrics:     newEngineMetrics(),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *ApprovalService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// RequestApproval
// ──────────────────────────────────────────────────────────────────────────────

// RequestApproval issues a single-use token and moves the deal to
// WAITING_FOR_APPROVAL. Links go out best-effort after the deal is saved; a
// delivery failure is logged and the token stays valid.
func (s *ApprovalService) RequestApproval(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	token, err := newConfirmationToken()
	if err != nil {
		return nil, fmt.Errorf("approval_service.RequestApproval: %w", err)
	}

	d, err := s.mutate(ctx, "approval_service.RequestApproval", id, func(d *domain.Deal) (bool, error) {
		if d.Phase != domain.PhaseTransportAgreed {
			return false, fmt.Errorf("%w: approval requires %s, deal is %s",
				domain.ErrInvalidTransition, domain.PhaseTransportAgreed, d.Phase)
		}
		d.ConfirmationToken = &token
		d.BuyerApproval = domain.ApprovalPending
		d.SellerApproval = domain.ApprovalPending
		return true, d.Transition(domain.PhaseWaitingForApproval, domain.LogEntry{
			Actor:     domain.ActorSystem,
			Message:   "Confirmation links sent to buyer and seller. Waiting for both approvals.",
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.phase(ctx, string(d.Phase))

	s.sendLinks(ctx, d, token)
	return d, nil
}

func (s *ApprovalService) sendLinks(ctx context.Context, d *domain.Deal, token string) {
	total := "-"
	if d.TotalValue != nil {
		total = d.TotalValue.StringFixed(2)
	}
	for _, p := range []struct {
		role    domain.Role
		contact string
	}{
		{domain.RoleBuyer, d.BuyerContact},
		{domain.RoleSeller, d.SellerContact},
	} {
		approve := s.confirmLink(token, p.role, false)
		reject := s.confirmLink(token, p.role, true)
		msg := notify.Message{
			Recipient: p.contact,
			Subject:   "Action required: confirm your deal",
			Body: fmt.Sprintf(
				"Your agents reached an agreement.\n\nItem price: %s\nDelivery: %s\nTotal: %s\n\nApprove: %s\nReject: %s",
				fmtDecimal(d.FinalPrice), fmtDecimal(d.TransportCost), total, approve, reject),
			Link: approve,
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.metrics.notifyFailed(ctx)
			s.logger.Warn("approval link delivery failed",
				"deal_id", d.ID,
				"role", p.role,
				"err", err,
			)
		}
	}
}

func (s *ApprovalService) confirmLink(token string, role domain.Role, reject bool) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("role", string(role))
	if reject {
		q.Set("action", string(domain.ActionReject))
	}
	return s.baseURL + "/confirm-deal?" + q.Encode()
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolve
// ──────────────────────────────────────────────────────────────────────────────

// Resolve records one principal's decision. A rejection fails the deal at
// once; two approvals promote it to APPROVED. A token that is no longer live
// returns the deal's current phase without touching it.
func (s *ApprovalService) Resolve(ctx context.Context, token string, role domain.Role, action domain.ApprovalAction) (ResolveResult, error) {
	if role != domain.RoleBuyer && role != domain.RoleSeller {
		return ResolveResult{}, domain.ErrInvalidRole
	}
	if action != domain.ActionApprove && action != domain.ActionReject {
		return ResolveResult{}, domain.ErrInvalidAction
	}

	rec, err := s.tokens.LookupToken(ctx, token)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("approval_service.Resolve: %w", err)
	}

	consume := false
	d, err := s.mutate(ctx, "approval_service.Resolve", rec.DealID, func(d *domain.Deal) (bool, error) {
		live := !rec.Consumed() &&
			d.Phase == domain.PhaseWaitingForApproval &&
			d.ConfirmationToken != nil && *d.ConfirmationToken == token
		if !live {
			return false, nil
		}

		now := time.Now().UTC()
		flag := d.ApprovalFor(role)
		label := roleLabel(role)

		if action == domain.ActionReject {
			*flag = domain.ApprovalRejected
			d.ConfirmationToken = nil
			consume = true
			return true, d.Transition(domain.PhaseFailed, domain.LogEntry{
				Actor:     domain.ActorSystem,
				Message:   fmt.Sprintf("%s rejected the deal. Deal cancelled.", label),
				Timestamp: now,
			})
		}

		if *flag == domain.ApprovalApproved {
			return false, nil
		}
		*flag = domain.ApprovalApproved
		d.Append(domain.LogEntry{
			Actor:     domain.ActorSystem,
			Message:   fmt.Sprintf("%s approved the deal.", label),
			Timestamp: now,
		})
		if d.BuyerApproval == domain.ApprovalApproved && d.SellerApproval == domain.ApprovalApproved {
			d.ConfirmationToken = nil
			consume = true
			return true, d.Transition(domain.PhaseApproved, domain.LogEntry{
				Actor:     domain.ActorSystem,
				Message:   "Both parties approved. Ready for payment.",
				Timestamp: now,
			})
		}
		return true, nil
	})
	if err != nil {
		return ResolveResult{}, err
	}

	if consume {
		s.metrics.phase(ctx, string(d.Phase))
		if err := s.tokens.ConsumeToken(ctx, token); err != nil {
			// The deal no longer carries the token, so it is already dead.
			s.logger.Warn("token consume failed", "deal_id", d.ID, "err", err)
		}
	}
	return ResolveResult{Phase: d.Phase, DealID: d.ID}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newConfirmationToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func roleLabel(r domain.Role) string {
	if r == domain.RoleBuyer {
		return "Buyer"
	}
	return "Seller"
}
