package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// DefaultModelTimeout bounds a single call to the primary strategy.
const DefaultModelTimeout = 4 * time.Second

var errInvalidDecision = errors.New("decision outside negotiation bounds")

// Negotiator tries the primary strategy first and replaces any failure,
// timeout or out-of-bounds answer with the fallback. It satisfies Decider.
type Negotiator struct {
	primary  Strategy
	fallback Strategy
	timeout  time.Duration
	logger   *slog.Logger

	fallbacks metric.Int64Counter
}

// NewNegotiator wires a primary strategy (may be nil) in front of the
// deterministic fallback.
func NewNegotiator(primary Strategy, timeout time.Duration, logger *slog.Logger) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := otel.Meter("dealengine.negotiation").Int64Counter("dealengine.decision.fallbacks",
		metric.WithDescription("Decisions served by the fallback strategy after a primary failure"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("dealengine.negotiation").Int64Counter("dealengine.decision.fallbacks")
	}
	return &Negotiator{
		primary:   primary,
		fallback:  FallbackStrategy{},
		timeout:   timeout,
		logger:    logger,
		fallbacks: counter,
	}
}

// Decide returns the primary strategy's decision when it is available and
// valid, otherwise the fallback's.
func (n *Negotiator) Decide(ctx context.Context, in Input) Decision {
	if n.primary != nil {
		d, err := n.tryPrimary(ctx, in)
		if err == nil {
			return d
		}
		n.logger.Warn("negotiator: primary strategy degraded, using fallback",
			"phase", in.Phase,
			"actor", in.Actor,
			"err", err,
		)
		n.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(in.Phase))))
	}
	d, _ := n.fallback.Decide(ctx, in)
	return d
}

func (n *Negotiator) tryPrimary(ctx context.Context, in Input) (Decision, error) {
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	type result struct {
		d   Decision
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := n.primary.Decide(cctx, in)
		ch <- result{d, err}
	}()

	select {
	case <-cctx.Done():
		return Decision{}, fmt.Errorf("negotiator.tryPrimary: %w", cctx.Err())
	case r := <-ch:
		if r.err != nil {
			return Decision{}, fmt.Errorf("negotiator.tryPrimary: %w", r.err)
		}
		if err := Validate(in, r.d); err != nil {
			return Decision{}, err
		}
		return r.d, nil
	}
}

// Validate checks that a decision respects the deal's price bounds so a
// misbehaving strategy can never break the record's invariants.
func Validate(in Input, d Decision) error {
	if !d.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", errInvalidDecision, d.Action)
	}
	if d.Action == ActionDecline {
		return nil
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", errInvalidDecision, d.Price)
	}

	if in.Phase == domain.PhaseTransportNegotiating {
		if !d.Price.Equal(in.TransportCost) {
			return fmt.Errorf("%w: delivery price %s differs from standard cost %s", errInvalidDecision, d.Price, in.TransportCost)
		}
		return nil
	}

	if d.Price.GreaterThan(in.InitialPrice) {
		return fmt.Errorf("%w: price %s above initial %s", errInvalidDecision, d.Price, in.InitialPrice)
	}
	switch {
	case d.Action == ActionAccept && in.Actor == domain.ActorBuyerAgent:
		if !d.Price.Equal(in.SellerAsk) {
			return fmt.Errorf("%w: buyer must accept the current ask", errInvalidDecision)
		}
		if d.Price.LessThan(in.FloorPrice) {
			return fmt.Errorf("%w: accepted price below floor", errInvalidDecision)
		}
	case d.Action == ActionAccept && in.Actor == domain.ActorSellerAgent:
		if in.BuyerOffer == nil || !d.Price.Equal(*in.BuyerOffer) {
			return fmt.Errorf("%w: seller must accept the current offer", errInvalidDecision)
		}
		if d.Price.LessThan(in.FloorPrice) {
			return fmt.Errorf("%w: accepted price below floor", errInvalidDecision)
		}
	case d.Action == ActionOffer && in.Actor == domain.ActorSellerAgent:
		if d.Price.LessThan(in.FloorPrice) {
			return fmt.Errorf("%w: seller offer below floor", errInvalidDecision)
		}
	}
	return nil
}
