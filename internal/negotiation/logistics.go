package negotiation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// Default logistics parameters.
const (
	DefaultMaxDistanceKm = 20
	DefaultMinKm         = 5
	DefaultMaxKm         = 34
	DefaultRatePerKm     = 25
)

// Quote is a delivery estimate for one deal.
type Quote struct {
	DistanceKm int
	Cost       decimal.Decimal
}

// Estimator produces a delivery quote. Implementations can call a real
// routing service; the controller only sees this interface.
type Estimator interface {
	Estimate(ctx context.Context, d *domain.Deal) (Quote, error)
}

// Cancels reports whether distanceKm is beyond the delivery radius. The limit
// itself is still deliverable.
func Cancels(distanceKm, maxDistanceKm int) bool {
	return distanceKm > maxDistanceKm
}

// RandomEstimator draws a distance uniformly from [MinKm, MaxKm] and prices it
// at a flat per-km rate.
type RandomEstimator struct {
	MinKm     int
	MaxKm     int
	RatePerKm decimal.Decimal

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomEstimator returns an estimator seeded from the clock.
func NewRandomEstimator(minKm, maxKm int, ratePerKm decimal.Decimal) *RandomEstimator {
	if minKm <= 0 {
		minKm = DefaultMinKm
	}
	if maxKm < minKm {
		maxKm = minKm
	}
	return &RandomEstimator{
		MinKm:     minKm,
		MaxKm:     maxKm,
		RatePerKm: ratePerKm,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Estimate implements Estimator.
func (e *RandomEstimator) Estimate(_ context.Context, _ *domain.Deal) (Quote, error) {
	e.mu.Lock()
	km := e.MinKm + e.rnd.Intn(e.MaxKm-e.MinKm+1)
	e.mu.Unlock()
	return Quote{DistanceKm: km, Cost: e.RatePerKm.Mul(decimal.NewFromInt(int64(km)))}, nil
}

// FixedEstimator always returns the same distance. Useful for tests and for
// deployments where every buyer is at a known site.
type FixedEstimator struct {
	DistanceKm int
	RatePerKm  decimal.Decimal
}

// Estimate implements Estimator.
func (e FixedEstimator) Estimate(_ context.Context, _ *domain.Deal) (Quote, error) {
	return Quote{DistanceKm: e.DistanceKm, Cost: e.RatePerKm.Mul(decimal.NewFromInt(int64(e.DistanceKm)))}, nil
}
