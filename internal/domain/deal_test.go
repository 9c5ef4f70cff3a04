package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/domain"
)

func testItem(price int64) *domain.CatalogItem {
	return &domain.CatalogItem{
		ID:           uuid.New(),
		Title:        "Steel Rods",
		Price:        decimal.NewFromInt(price),
		OwnerContact: "seller@example.com",
		Available:    true,
	}
}

// ── Creation ──────────────────────────────────────────────────────────────────

func TestNewDeal_FloorIsNinetyPercentRoundedDown(t *testing.T) {
	cases := []struct {
		price int64
		floor int64
	}{
		{1000, 900},
		{1005, 904},
		{99, 89},
	}
	for _, c := range cases {
		d := domain.NewDeal(testItem(c.price), "buyer@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
		if !d.FloorPrice.Equal(decimal.NewFromInt(c.floor)) {
			t.Errorf("price %d: FloorPrice = %s, want %d", c.price, d.FloorPrice, c.floor)
		}
	}
}

func TestNewDeal_OpensPriceNegotiation(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "buyer@example.com", "", 0, domain.DefaultFloorRatio, time.Now())

	if d.Phase != domain.PhasePriceNegotiating {
		t.Errorf("Phase = %s, want PRICE_NEGOTIATING", d.Phase)
	}
	if d.MaxTurns != domain.DefaultMaxTurns {
		t.Errorf("MaxTurns = %d, want %d", d.MaxTurns, domain.DefaultMaxTurns)
	}
	if d.SellerContact != "seller@example.com" {
		t.Errorf("SellerContact = %q", d.SellerContact)
	}
	if !d.SellerAsk.Equal(d.InitialPrice) {
		t.Errorf("SellerAsk = %s, want initial %s", d.SellerAsk, d.InitialPrice)
	}
	if d.BuyerLocation != "Unknown" {
		t.Errorf("BuyerLocation = %q, want Unknown", d.BuyerLocation)
	}
	if len(d.Log) != 1 || d.Log[0].Actor != domain.ActorSystem {
		t.Fatalf("expected one SYSTEM entry, got %+v", d.Log)
	}
	if d.BuyerApproval != domain.ApprovalPending || d.SellerApproval != domain.ApprovalPending {
		t.Errorf("approvals should start PENDING")
	}
}

// ── Transitions ───────────────────────────────────────────────────────────────

func TestDeal_Transition_RejectsUndeclaredEdge(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	before := len(d.Log)

	err := d.Transition(domain.PhasePaid, domain.LogEntry{Actor: domain.ActorSystem, Message: "skip"})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if d.Phase != domain.PhasePriceNegotiating {
		t.Errorf("phase changed to %s on rejected transition", d.Phase)
	}
	if len(d.Log) != before {
		t.Errorf("log grew on rejected transition")
	}
}

func TestDeal_Transition_AppendsExactlyOneEntry(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	before := len(d.Log)

	if err := d.Transition(domain.PhasePriceAgreed, domain.LogEntry{Actor: domain.ActorSystem, Message: "Price locked"}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if len(d.Log) != before+1 {
		t.Errorf("log length = %d, want %d", len(d.Log), before+1)
	}
	if d.Log[len(d.Log)-1].Timestamp.IsZero() {
		t.Errorf("entry timestamp should be filled in")
	}
}

func TestPhase_TerminalHaveNoOutgoingEdges(t *testing.T) {
	for _, from := range domain.AllPhases() {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range domain.AllPhases() {
			if domain.CanTransition(from, to) {
				t.Errorf("terminal phase %s has edge to %s", from, to)
			}
		}
	}
}

func TestPhase_IsValid(t *testing.T) {
	if domain.Phase("COMPLETED").IsValid() {
		t.Errorf("COMPLETED should not be a valid phase")
	}
	if !domain.PhaseWaitingForApproval.IsValid() {
		t.Errorf("WAITING_FOR_APPROVAL should be valid")
	}
}

// ── Log helpers ───────────────────────────────────────────────────────────────

func TestDeal_LastAgentEntry_SkipsSystem(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	if d.LastAgentEntry() != nil {
		t.Fatalf("no agent has spoken yet")
	}
	d.Append(domain.LogEntry{Actor: domain.ActorBuyerAgent, Message: "850?"})
	d.Append(domain.LogEntry{Actor: domain.ActorSystem, Message: "note"})

	last := d.LastAgentEntry()
	if last == nil || last.Actor != domain.ActorBuyerAgent {
		t.Errorf("LastAgentEntry = %+v, want buyer entry", last)
	}
	if got := d.RecentEntries(2); len(got) != 2 || got[1].Actor != domain.ActorSystem {
		t.Errorf("RecentEntries(2) = %+v", got)
	}
	if got := d.RecentEntries(10); len(got) != len(d.Log) {
		t.Errorf("RecentEntries(10) len = %d, want %d", len(got), len(d.Log))
	}
}

func TestDeal_Clone_IsDeep(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	offer := decimal.NewFromInt(850)
	d.BuyerOffer = &offer

	c := d.Clone()
	*c.BuyerOffer = decimal.NewFromInt(1)
	c.Log[0].Message = "changed"
	c.Append(domain.LogEntry{Actor: domain.ActorSellerAgent, Message: "x"})

	if !d.BuyerOffer.Equal(decimal.NewFromInt(850)) {
		t.Errorf("original BuyerOffer mutated through clone")
	}
	if d.Log[0].Message == "changed" {
		t.Errorf("original log mutated through clone")
	}
	if len(d.Log) != 1 {
		t.Errorf("original log length = %d, want 1", len(d.Log))
	}
}

// ── Parsing ───────────────────────────────────────────────────────────────────

func TestParseRoleAndAction(t *testing.T) {
	if r, err := domain.ParseRole(" Buyer "); err != nil || r != domain.RoleBuyer {
		t.Errorf("ParseRole(Buyer) = %q, %v", r, err)
	}
	if _, err := domain.ParseRole("carrier"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Errorf("ParseRole(carrier) err = %v", err)
	}
	if a, err := domain.ParseApprovalAction(""); err != nil || a != domain.ActionApprove {
		t.Errorf("empty action should mean approve, got %q, %v", a, err)
	}
	if _, err := domain.ParseApprovalAction("maybe"); !domain.IsValidation(err) {
		t.Errorf("ParseApprovalAction(maybe) err = %v", err)
	}
}

// ── Persistence encodings ─────────────────────────────────────────────────────

func TestSettlement_NilValueIsNull(t *testing.T) {
	var s *domain.Settlement
	v, err := s.Value()
	if err != nil || v != nil {
		t.Errorf("nil settlement Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestDealLog_ScanRoundTrip(t *testing.T) {
	in := domain.DealLog{{Actor: domain.ActorSellerAgent, Message: "Final offer", Signal: domain.SignalFinalOffer}}
	raw, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var out domain.DealLog
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 1 || out[0].Signal != domain.SignalFinalOffer {
		t.Errorf("scanned log = %+v", out)
	}
}

// ── Replay & gate pass ────────────────────────────────────────────────────────

func TestBuildReplay_SkipsSystemChatterUntilApproved(t *testing.T) {
	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	d.Append(domain.LogEntry{Actor: domain.ActorBuyerAgent, Message: "850?"})
	d.Append(domain.LogEntry{Actor: domain.ActorSystem, Message: "DISTANCE ALERT: 25 km", Signal: domain.SignalDistanceAlert})

	events := domain.BuildReplay(d, nil, nil)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (buyer chat + distance alert)", len(events))
	}
	for i, e := range events {
		if e.Step != i+1 || e.Type != domain.ReplayChat {
			t.Errorf("event %d = %+v", i, e)
		}
	}

	d.Phase = domain.PhasePaid
	d.Settlement = &domain.Settlement{GatePassID: "GP-1"}
	events = domain.BuildReplay(d, testItem(1000), nil)
	if events[0].Type != domain.ReplayUpload {
		t.Errorf("first event = %s, want UPLOAD", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != domain.ReplaySuccess || last.Data["gate_pass"] != "GP-1" {
		t.Errorf("last event = %+v", last)
	}
}

func TestCheckGatePass(t *testing.T) {
	if got := domain.CheckGatePass(nil); got.Valid {
		t.Errorf("unknown pass should be invalid")
	}

	d := domain.NewDeal(testItem(1000), "b@example.com", "Pune", 0, domain.DefaultFloorRatio, time.Now())
	d.Phase = domain.PhaseApproved
	if got := domain.CheckGatePass(d); got.Valid {
		t.Errorf("unpaid deal should be invalid")
	}

	d.Phase = domain.PhasePaid
	d.Settlement = &domain.Settlement{Driver: domain.DefaultFleet()[0], GatePassID: "GP-1"}
	got := domain.CheckGatePass(d)
	if !got.Valid || got.Driver == nil || got.Driver.Name != "Rajesh Kumar" {
		t.Errorf("paid deal check = %+v", got)
	}
}
