package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// TestConcurrentSettle fires N settlements at one approved deal. Exactly one
// may issue a gate pass; every other caller must see a state conflict.
func TestConcurrentSettle(t *testing.T) {
	const workers = 20
	e := newEngine(t)
	d := e.approved(t)

	var (
		wins      int64
		conflicts int64
		other     int64
		wg        sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.settlement.Settle(context.Background(), d.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case domain.IsConflict(err):
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&other, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 successful settlement, got %d", wins)
	}
	if conflicts != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, conflicts)
	}
	if other != 0 {
		t.Errorf("expected no unexpected errors, got %d", other)
	}

	got, err := e.deals.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != domain.PhasePaid || got.Settlement == nil {
		t.Errorf("deal should be PAID with one settlement, got %s", got.Phase)
	}
}

// TestConcurrentApprovals has both principals click their links many times
// at once. The deal must land in APPROVED with both flags set.
func TestConcurrentApprovals(t *testing.T) {
	const clicksEach = 10
	e := newEngine(t)
	d, token := e.waiting(t)

	var (
		failures int64
		wg       sync.WaitGroup
	)
	for i := 0; i < clicksEach; i++ {
		for _, role := range []domain.Role{domain.RoleBuyer, domain.RoleSeller} {
			wg.Add(1)
			go func(role domain.Role) {
				defer wg.Done()
				if _, err := e.approvals.Resolve(context.Background(), token, role, domain.ActionApprove); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}(role)
		}
	}
	wg.Wait()

	if failures > 0 {
		t.Errorf("expected repeated approvals to be idempotent, got %d failures", failures)
	}
	got, err := e.deals.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != domain.PhaseApproved {
		t.Errorf("expected APPROVED, got %s", got.Phase)
	}
	if got.BuyerApproval != domain.ApprovalApproved || got.SellerApproval != domain.ApprovalApproved {
		t.Errorf("both principals should be APPROVED, got buyer=%s seller=%s", got.BuyerApproval, got.SellerApproval)
	}
}
