package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/pkg/retry"
)

// MockProvider is a mock implementation of gateway.Provider
type MockProvider struct {
	KindValue   gateway.Kind
	ExecuteFunc func(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Result, error)
}

func (m *MockProvider) Kind() gateway.Kind {
	if m.KindValue == "" {
		return gateway.KindMock
	}
	return m.KindValue
}

func (m *MockProvider) Execute(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Result, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return gateway.Success("ref-" + req.ReservationID), nil
}

// MockRegistry is a mock implementation of ProviderRegistry
type MockRegistry struct {
	providers map[gateway.Kind]gateway.Provider
	primary   gateway.Kind
}

func newMockRegistry(providers ...gateway.Provider) *MockRegistry {
	r := &MockRegistry{providers: make(map[gateway.Kind]gateway.Provider)}
	for _, p := range providers {
		if r.primary == "" {
			r.primary = p.Kind()
		}
		r.providers[p.Kind()] = p
	}
	return r
}

func (m *MockRegistry) Get(kind gateway.Kind) (gateway.Provider, error) {
	if kind == "" {
		kind = m.primary
	}
	p, ok := m.providers[kind]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return p, nil
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []domain.SettlementEventType
	Err    error
}

func (m *MockEventPublisher) record(t domain.SettlementEventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, t)
	return m.Err
}

func (m *MockEventPublisher) Count(t domain.SettlementEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e == t {
			n++
		}
	}
	return n
}

func (m *MockEventPublisher) PublishReservationCreated(ctx context.Context, res *domain.Reservation) error {
	return m.record(domain.EventReservationCreated)
}

func (m *MockEventPublisher) PublishReservationConfirmed(ctx context.Context, res *domain.Reservation) error {
	return m.record(domain.EventReservationConfirmed)
}

func (m *MockEventPublisher) PublishReservationReleased(ctx context.Context, res *domain.Reservation) error {
	return m.record(domain.EventReservationReleased)
}

func (m *MockEventPublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket) error {
	return m.record(domain.EventTicketIssued)
}

func (m *MockEventPublisher) PublishTicketStatusChanged(ctx context.Context, ticket *domain.Ticket) error {
	return m.record(domain.EventTicketStatusChanged)
}

func (m *MockEventPublisher) PublishReconciliationAlert(ctx context.Context, alert *domain.ReconciliationAlert) error {
	return m.record(domain.EventReconciliationAlert)
}

func (m *MockEventPublisher) Close() error {
	return nil
}

var (
	buyerSession     = &domain.Session{UserID: "buyer-1", Role: domain.RoleCustomer}
	otherSession     = &domain.Session{UserID: "buyer-2", Role: domain.RoleCustomer}
	organizerSession = &domain.Session{UserID: "org-1", Role: domain.RoleOrganizer}
	adminSession     = &domain.Session{UserID: "admin-1", Role: domain.RoleAdmin}
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

type settlementFixture struct {
	events    *repository.MemoryEventRepository
	ledger    *repository.MemoryLedgerRepository
	tickets   *repository.MemoryTicketRepository
	alerts    *repository.MemoryAlertRepository
	hub       *gateway.CallbackHub
	publisher *MockEventPublisher
	issuer    TicketIssuer
	svc       SettlementService
	event     *domain.Event
	receipts  *MockReceiptVerifier
}

func (f *settlementFixture) tier(name string) *domain.Tier {
	t, _ := f.event.TierByName(name)
	return t
}

func (f *settlementFixture) inventory(t *testing.T, name string) *domain.TierInventory {
	t.Helper()
	inv, err := f.ledger.Inventory(context.Background(), f.tier(name).ID)
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	return inv
}

func newSettlementFixture(t *testing.T, cfg *SettlementServiceConfig, providers ...gateway.Provider) *settlementFixture {
	t.Helper()
	f := &settlementFixture{
		events:    repository.NewMemoryEventRepository(),
		ledger:    repository.NewMemoryLedgerRepository(),
		tickets:   repository.NewMemoryTicketRepository(),
		alerts:    repository.NewMemoryAlertRepository(),
		hub:       gateway.NewCallbackHub(),
		publisher: &MockEventPublisher{},
	}

	catalog := NewCatalogService(f.events, f.ledger)
	event, err := catalog.CreateEvent(context.Background(), organizerSession, &dto.EventRequest{
		Title:    "Sunburn Arena",
		Date:     "2026-12-20",
		Time:     "19:00",
		Venue:    "Mumbai",
		Category: string(domain.CategoryConcert),
		Tiers: []dto.TierRequest{
			{Name: domain.TierGeneral, UnitPrice: decimal.RequireFromString("150.00"), Capacity: 10},
			{Name: domain.TierVIP, UnitPrice: decimal.RequireFromString("500.00"), Capacity: 2},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	f.event = event

	if cfg == nil {
		cfg = &SettlementServiceConfig{}
	}
	if cfg.Retry == nil {
		cfg.Retry = fastRetry()
	}
	if len(providers) == 0 {
		providers = []gateway.Provider{&MockProvider{}}
	}

	f.issuer = NewTicketIssuer(f.tickets, f.events, nil, f.publisher)
	f.svc = NewSettlementService(f.events, f.ledger, newMockRegistry(providers...), f.hub, f.issuer, f.alerts, f.publisher, cfg)
	return f
}

func TestPurchase_Success(t *testing.T) {
	f := newSettlementFixture(t, nil)
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}
	if attempt.State != domain.AttemptConfirmed {
		t.Fatalf("State = %s, want CONFIRMED", attempt.State)
	}
	if !attempt.Amount.Equal(decimal.RequireFromString("300")) {
		t.Errorf("Amount = %s, want 300", attempt.Amount)
	}
	if attempt.TicketID != domain.TicketIDFor(attempt.ReservationID) {
		t.Errorf("TicketID = %s, want derived from reservation", attempt.TicketID)
	}

	inv := f.inventory(t, domain.TierGeneral)
	if inv.Sold != 2 || inv.Held != 0 {
		t.Errorf("inventory sold=%d held=%d, want 2/0", inv.Sold, inv.Held)
	}

	ticket, err := f.tickets.GetByReservationID(ctx, attempt.ReservationID)
	if err != nil {
		t.Fatalf("GetByReservationID() error = %v", err)
	}
	if ticket.TierName != domain.TierGeneral || ticket.Quantity != 2 {
		t.Errorf("ticket = %+v", ticket)
	}
	if ticket.PaymentReference != "ref-"+attempt.ReservationID {
		t.Errorf("PaymentReference = %s", ticket.PaymentReference)
	}

	for _, typ := range []domain.SettlementEventType{
		domain.EventReservationCreated,
		domain.EventReservationConfirmed,
		domain.EventTicketIssued,
	} {
		if f.publisher.Count(typ) != 1 {
			t.Errorf("published %s %d times, want 1", typ, f.publisher.Count(typ))
		}
	}
}

func TestPurchase_PriceSnapshot(t *testing.T) {
	var f *settlementFixture
	provider := &MockProvider{
		ExecuteFunc: func(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Result, error) {
			// the organizer reprices the tier while the buyer pays
			tier := f.tier(domain.TierGeneral)
			err := f.ledger.UpsertTier(ctx, repository.TierSpec{
				EventID:   tier.EventID,
				TierID:    tier.ID,
				Capacity:  tier.Capacity,
				UnitPrice: decimal.RequireFromString("999"),
			})
			if err != nil {
				return nil, err
			}
			return gateway.Success("ref-1"), nil
		},
	}
	f = newSettlementFixture(t, nil, provider)

	attempt, err := f.svc.Purchase(context.Background(), buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierID:   f.tier(domain.TierGeneral).ID,
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}

	ticket, err := f.tickets.GetByID(context.Background(), attempt.TicketID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !ticket.UnitPrice.Equal(decimal.RequireFromString("150")) {
		t.Errorf("UnitPrice = %s, want 150", ticket.UnitPrice)
	}
}

func TestPurchase_PaymentFailures(t *testing.T) {
	tests := []struct {
		name       string
		result     *gateway.Result
		execErr    error
		wantErr    error
		wantReason domain.ReleaseReason
	}{
		{
			name:       "rejected",
			result:     gateway.Failure(gateway.FailureRejected, "card declined"),
			wantErr:    domain.ErrPaymentRejected,
			wantReason: domain.ReleasePaymentFailed,
		},
		{
			name:       "user cancelled",
			result:     gateway.Cancelled("Transaction rejected by user"),
			wantErr:    domain.ErrPaymentCancelledByUser,
			wantReason: domain.ReleaseCancelled,
		},
		{
			name:       "provider error",
			execErr:    errors.New("connection reset"),
			wantErr:    domain.ErrPaymentNetworkError,
			wantReason: domain.ReleasePaymentFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &MockProvider{
				ExecuteFunc: func(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Result, error) {
					return tt.result, tt.execErr
				},
			}
			f := newSettlementFixture(t, nil, provider)

			attempt, err := f.svc.Purchase(context.Background(), buyerSession, &dto.PurchaseRequest{
				EventID:  f.event.ID,
				TierName: domain.TierVIP,
				Quantity: 2,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Purchase() error = %v, want %v", err, tt.wantErr)
			}
			serr, ok := domain.AsSettlementError(err)
			if !ok || serr.ReservationID == "" || serr.TierID == "" {
				t.Errorf("expected settlement error with identifiers, got %v", err)
			}
			if attempt.State != domain.AttemptFailed {
				t.Errorf("State = %s, want FAILED", attempt.State)
			}

			res, err := f.ledger.Get(context.Background(), attempt.ReservationID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if res.State != domain.ReservationReleased || res.ReleaseReason != tt.wantReason {
				t.Errorf("reservation = %s/%s, want RELEASED/%s", res.State, res.ReleaseReason, tt.wantReason)
			}
			if inv := f.inventory(t, domain.TierVIP); inv.Available() != 2 {
				t.Errorf("Available() = %d, want 2", inv.Available())
			}
		})
	}
}

func TestPurchase_Validation(t *testing.T) {
	f := newSettlementFixture(t, &SettlementServiceConfig{MaxPerPurchase: 4})
	ctx := context.Background()

	completed := *f.event
	completed.ID = "completed-event"
	completed.Status = domain.EventStatusCompleted
	if err := f.events.Create(ctx, &completed); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		session *domain.Session
		req     *dto.PurchaseRequest
		wantErr error
	}{
		{"unauthenticated", nil, &dto.PurchaseRequest{EventID: f.event.ID, TierName: domain.TierGeneral, Quantity: 1}, domain.ErrUnauthorized},
		{"zero quantity", buyerSession, &dto.PurchaseRequest{EventID: f.event.ID, TierName: domain.TierGeneral, Quantity: 0}, domain.ErrInvalidQuantity},
		{"above per-purchase limit", buyerSession, &dto.PurchaseRequest{EventID: f.event.ID, TierName: domain.TierGeneral, Quantity: 5}, domain.ErrInvalidQuantity},
		{"unknown event", buyerSession, &dto.PurchaseRequest{EventID: "missing", TierName: domain.TierGeneral, Quantity: 1}, domain.ErrEventNotFound},
		{"completed event", buyerSession, &dto.PurchaseRequest{EventID: completed.ID, TierName: domain.TierGeneral, Quantity: 1}, domain.ErrEventNotOnSale},
		{"unknown tier", buyerSession, &dto.PurchaseRequest{EventID: f.event.ID, TierName: "balcony", Quantity: 1}, domain.ErrTierNotFound},
		{"unknown provider", buyerSession, &dto.PurchaseRequest{EventID: f.event.ID, TierName: domain.TierGeneral, Quantity: 1, Provider: "paypal"}, domain.ErrUnknownProvider},
		{"insufficient capacity", buyerSession, &dto.PurchaseRequest{EventID: f.event.ID, TierName: domain.TierVIP, Quantity: 3}, domain.ErrInsufficientCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Purchase(ctx, tt.session, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Purchase() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if inv := f.inventory(t, domain.TierVIP); inv.Held != 0 || inv.Sold != 0 {
		t.Errorf("rejected purchases changed inventory: %+v", inv)
	}
}

func TestPurchase_TimeoutThenLateSuccessRaisesAlert(t *testing.T) {
	provider := &MockProvider{
		ExecuteFunc: func(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newSettlementFixture(t, &SettlementServiceConfig{PaymentTimeout: 20 * time.Millisecond}, provider)
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 1,
	})
	if !errors.Is(err, domain.ErrPaymentTimeout) {
		t.Fatalf("Purchase() error = %v, want ErrPaymentTimeout", err)
	}
	res, _ := f.ledger.Get(ctx, attempt.ReservationID)
	if res.ReleaseReason != domain.ReleaseTimeout {
		t.Errorf("ReleaseReason = %s, want timeout", res.ReleaseReason)
	}

	late, err := f.svc.HandlePaymentOutcome(ctx, gateway.KindMock, attempt.ReservationID, gateway.Success("late-ref"))
	if !errors.Is(err, domain.ErrReconciliationConflict) {
		t.Fatalf("HandlePaymentOutcome() error = %v, want ErrReconciliationConflict", err)
	}
	if late.State != domain.AttemptFailed || !errors.Is(late.Err, domain.ErrReconciliationConflict) {
		t.Errorf("attempt = %s/%v", late.State, late.Err)
	}

	alerts, err := f.alerts.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(alerts))
	}
	alert := alerts[0]
	if alert.ReservationID != attempt.ReservationID || alert.PaymentReference != "late-ref" {
		t.Errorf("alert = %+v", alert)
	}
	if !alert.Amount.Equal(decimal.RequireFromString("150")) {
		t.Errorf("alert Amount = %s, want 150", alert.Amount)
	}
	if f.publisher.Count(domain.EventReconciliationAlert) != 1 {
		t.Error("expected reconciliation alert to be published")
	}

	if _, err := f.tickets.GetByReservationID(ctx, attempt.ReservationID); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Errorf("expected no ticket, got err = %v", err)
	}
	if inv := f.inventory(t, domain.TierGeneral); inv.Sold != 0 || inv.Held != 0 {
		t.Errorf("inventory = %+v, want untouched", inv)
	}
}

func TestHandlePaymentOutcome_DuplicateSuccessIssuesOneTicket(t *testing.T) {
	f := newSettlementFixture(t, nil)
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 3,
	})
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}

	again, err := f.svc.HandlePaymentOutcome(ctx, gateway.KindMock, attempt.ReservationID, gateway.Success("ref-"+attempt.ReservationID))
	if err != nil {
		t.Fatalf("HandlePaymentOutcome() error = %v", err)
	}
	if again.State != domain.AttemptConfirmed || again.TicketID != attempt.TicketID {
		t.Errorf("attempt = %+v", again)
	}

	tickets, _ := f.tickets.ListByBuyer(ctx, buyerSession.UserID)
	if len(tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(tickets))
	}
	if inv := f.inventory(t, domain.TierGeneral); inv.Sold != 3 {
		t.Errorf("Sold = %d, want 3", inv.Sold)
	}
	if f.publisher.Count(domain.EventTicketIssued) != 1 {
		t.Errorf("ticket issued published %d times, want 1", f.publisher.Count(domain.EventTicketIssued))
	}
}

func TestHandlePaymentOutcome_SecondPaymentRaisesAlert(t *testing.T) {
	f := newSettlementFixture(t, nil)
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}

	again, err := f.svc.HandlePaymentOutcome(ctx, gateway.KindMock, attempt.ReservationID, gateway.Success("0xsecond"))
	if !errors.Is(err, domain.ErrReconciliationConflict) {
		t.Fatalf("HandlePaymentOutcome() error = %v, want ErrReconciliationConflict", err)
	}
	if again == nil || again.State != domain.AttemptConfirmed || again.PaymentReference != "ref-"+attempt.ReservationID {
		t.Errorf("attempt = %+v, want the first sale to stand", again)
	}

	alerts, err := f.alerts.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(alerts))
	}
	if alerts[0].ReservationID != attempt.ReservationID || alerts[0].PaymentReference != "0xsecond" {
		t.Errorf("alert = %+v", alerts[0])
	}
	if f.publisher.Count(domain.EventReconciliationAlert) != 1 {
		t.Error("expected reconciliation alert to be published")
	}
	if f.publisher.Count(domain.EventReservationConfirmed) != 1 {
		t.Errorf("reservation confirmed published %d times, want 1", f.publisher.Count(domain.EventReservationConfirmed))
	}

	ticket, err := f.tickets.GetByReservationID(ctx, attempt.ReservationID)
	if err != nil {
		t.Fatal(err)
	}
	if ticket.PaymentReference != "ref-"+attempt.ReservationID {
		t.Errorf("PaymentReference = %s, want first payment", ticket.PaymentReference)
	}
	if inv := f.inventory(t, domain.TierGeneral); inv.Sold != 1 {
		t.Errorf("Sold = %d, want 1", inv.Sold)
	}
}

func waitForHandoff(t *testing.T, svc SettlementService, session *domain.Session, reservationID string) *gateway.Handoff {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, handoff, err := svc.GetAttempt(context.Background(), session, reservationID)
		if err != nil {
			t.Fatalf("GetAttempt() error = %v", err)
		}
		if handoff != nil {
			return handoff
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("payment handoff was not published")
	return nil
}

// MockReceiptVerifier is a mock implementation of gateway.ReceiptVerifier
type MockReceiptVerifier struct {
	mu         sync.Mutex
	transfers  []gateway.Transfer
	VerifyFunc func(ctx context.Context, t *gateway.Transfer) error
}

func (m *MockReceiptVerifier) VerifyTransfer(ctx context.Context, t *gateway.Transfer) error {
	m.mu.Lock()
	m.transfers = append(m.transfers, *t)
	m.mu.Unlock()
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, t)
	}
	return nil
}

func (m *MockReceiptVerifier) Transfers() []gateway.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateway.Transfer(nil), m.transfers...)
}

func newOnChainFixture(t *testing.T) *settlementFixture {
	t.Helper()
	hub := gateway.NewCallbackHub()
	receipts := &MockReceiptVerifier{}
	cfg := gateway.DefaultOnChainConfig()
	cfg.Verifier = receipts
	onchain, err := gateway.NewOnChainGateway(cfg, hub)
	if err != nil {
		t.Fatal(err)
	}
	f := newSettlementFixture(t, nil, onchain)
	f.receipts = receipts
	// the gateway waits on its own hub, so the service must deliver to the same one
	f.hub = hub
	f.svc = NewSettlementService(f.events, f.ledger, newMockRegistry(onchain), hub, f.issuer, f.alerts, f.publisher,
		&SettlementServiceConfig{PaymentTimeout: 5 * time.Second, Retry: fastRetry()})
	return f
}

func txHash(b string) string {
	return "0x" + strings.Repeat(b, 32)
}

func (f *settlementFixture) startVIP(t *testing.T) *domain.Attempt {
	t.Helper()
	attempt, err := f.svc.StartPurchase(context.Background(), buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierVIP,
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("StartPurchase() error = %v", err)
	}
	waitForHandoff(t, f.svc, buyerSession, attempt.ReservationID)
	return attempt
}

func TestStartPurchase_WalletCallbackConfirms(t *testing.T) {
	f := newOnChainFixture(t)
	ctx := context.Background()

	attempt, err := f.svc.StartPurchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierVIP,
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("StartPurchase() error = %v", err)
	}
	if attempt.State.IsFinal() {
		t.Fatalf("State = %s, want pending", attempt.State)
	}

	handoff := waitForHandoff(t, f.svc, buyerSession, attempt.ReservationID)
	if handoff.Recipient != gateway.DefaultRecipient || handoff.AmountWei != "500000000000000000000" {
		t.Errorf("handoff = %+v", handoff)
	}

	hash := txHash("ab")
	if _, err := f.svc.ReportWalletOutcome(ctx, otherSession, attempt.ReservationID, &gateway.WalletOutcome{TxHash: hash}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("ReportWalletOutcome() by another buyer error = %v, want ErrForbidden", err)
	}

	if _, err := f.svc.ReportWalletOutcome(ctx, buyerSession, attempt.ReservationID, &gateway.WalletOutcome{TxHash: hash}); err != nil {
		t.Fatalf("ReportWalletOutcome() error = %v", err)
	}
	f.svc.Wait()

	final, _, err := f.svc.GetAttempt(ctx, buyerSession, attempt.ReservationID)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != domain.AttemptConfirmed || final.PaymentReference != hash {
		t.Errorf("attempt = %s ref=%s", final.State, final.PaymentReference)
	}

	transfers := f.receipts.Transfers()
	if len(transfers) != 1 {
		t.Fatalf("verified %d transfers, want 1", len(transfers))
	}
	got := transfers[0]
	if got.TxHash != hash || got.Recipient != gateway.DefaultRecipient || got.ChainID != gateway.DefaultChainID {
		t.Errorf("transfer = %+v", got)
	}
	if got.AmountWei.String() != "500000000000000000000" {
		t.Errorf("AmountWei = %s", got.AmountWei)
	}
}

func TestReportWalletOutcome_ForgedHashRejected(t *testing.T) {
	f := newOnChainFixture(t)
	f.receipts.VerifyFunc = func(ctx context.Context, tr *gateway.Transfer) error {
		return fmt.Errorf("%w: transaction %s paid a different recipient", domain.ErrPaymentUnverified, tr.TxHash)
	}
	ctx := context.Background()
	attempt := f.startVIP(t)

	_, err := f.svc.ReportWalletOutcome(ctx, buyerSession, attempt.ReservationID, &gateway.WalletOutcome{TxHash: txHash("cd")})
	if !errors.Is(err, domain.ErrPaymentUnverified) {
		t.Fatalf("ReportWalletOutcome() error = %v, want ErrPaymentUnverified", err)
	}

	current, _, err := f.svc.GetAttempt(ctx, buyerSession, attempt.ReservationID)
	if err != nil {
		t.Fatal(err)
	}
	if current.State.IsFinal() {
		t.Errorf("State = %s, want still pending", current.State)
	}
	if _, err := f.tickets.GetByReservationID(ctx, attempt.ReservationID); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Errorf("expected no ticket, got err = %v", err)
	}
	if inv := f.inventory(t, domain.TierVIP); inv.Sold != 0 || inv.Held != 1 {
		t.Errorf("inventory sold=%d held=%d, want 0/1", inv.Sold, inv.Held)
	}

	if _, err := f.svc.Cancel(ctx, buyerSession, attempt.ReservationID); err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
}

func TestReportWalletOutcome_ReusedHashRejected(t *testing.T) {
	f := newOnChainFixture(t)
	ctx := context.Background()

	first := f.startVIP(t)
	second := f.startVIP(t)

	hash := txHash("ef")
	if _, err := f.svc.ReportWalletOutcome(ctx, buyerSession, first.ReservationID, &gateway.WalletOutcome{TxHash: hash}); err != nil {
		t.Fatalf("ReportWalletOutcome() error = %v", err)
	}

	// hex case must not turn the same transfer into a new reference
	_, err := f.svc.ReportWalletOutcome(ctx, buyerSession, second.ReservationID,
		&gateway.WalletOutcome{TxHash: "0x" + strings.ToUpper(strings.TrimPrefix(hash, "0x"))})
	if !errors.Is(err, domain.ErrPaymentUnverified) {
		t.Fatalf("reused hash error = %v, want ErrPaymentUnverified", err)
	}

	if _, err := f.tickets.GetByReservationID(ctx, second.ReservationID); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Errorf("expected no ticket for the second reservation, got err = %v", err)
	}
	if _, err := f.svc.Cancel(ctx, buyerSession, second.ReservationID); err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	if inv := f.inventory(t, domain.TierVIP); inv.Sold != 1 || inv.Held != 0 {
		t.Errorf("inventory sold=%d held=%d, want 1/0", inv.Sold, inv.Held)
	}
	if n := len(f.receipts.Transfers()); n != 1 {
		t.Errorf("verified %d transfers, want 1", n)
	}
}

func TestCancel_RestoresCapacity(t *testing.T) {
	f := newOnChainFixture(t)
	ctx := context.Background()

	attempt, err := f.svc.StartPurchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierVIP,
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("StartPurchase() error = %v", err)
	}
	waitForHandoff(t, f.svc, buyerSession, attempt.ReservationID)
	if inv := f.inventory(t, domain.TierVIP); inv.Available() != 0 {
		t.Fatalf("Available() = %d, want 0 while held", inv.Available())
	}

	if _, err := f.svc.Cancel(ctx, otherSession, attempt.ReservationID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Cancel() by another buyer error = %v, want ErrForbidden", err)
	}

	cancelled, err := f.svc.Cancel(ctx, buyerSession, attempt.ReservationID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	f.svc.Wait()

	if cancelled.State != domain.AttemptFailed {
		t.Errorf("State = %s, want FAILED", cancelled.State)
	}
	final, _, _ := f.svc.GetAttempt(ctx, buyerSession, attempt.ReservationID)
	if !errors.Is(final.Err, domain.ErrPaymentCancelledByUser) {
		t.Errorf("Err = %v, want ErrPaymentCancelledByUser", final.Err)
	}
	if inv := f.inventory(t, domain.TierVIP); inv.Available() != 2 {
		t.Errorf("Available() = %d, want 2", inv.Available())
	}
	if f.publisher.Count(domain.EventReservationReleased) != 1 {
		t.Errorf("released published %d times, want 1", f.publisher.Count(domain.EventReservationReleased))
	}
}

func TestCancel_ConfirmedReservation(t *testing.T) {
	f := newSettlementFixture(t, nil)
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Cancel(ctx, buyerSession, attempt.ReservationID); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Errorf("Cancel() error = %v, want ErrAlreadyTerminal", err)
	}
	if inv := f.inventory(t, domain.TierGeneral); inv.Sold != 1 {
		t.Errorf("Sold = %d, want 1", inv.Sold)
	}
}

func TestGetAttempt_RebuiltFromLedger(t *testing.T) {
	f := newSettlementFixture(t, &SettlementServiceConfig{AttemptRetain: time.Minute})
	ctx := context.Background()

	attempt, err := f.svc.Purchase(ctx, buyerSession, &dto.PurchaseRequest{
		EventID:  f.event.ID,
		TierName: domain.TierGeneral,
		Quantity: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if n := f.svc.PruneAttempts(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("PruneAttempts() = %d, want 1", n)
	}

	got, handoff, err := f.svc.GetAttempt(ctx, buyerSession, attempt.ReservationID)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if handoff != nil {
		t.Error("expected no handoff for a settled reservation")
	}
	if got.State != domain.AttemptConfirmed || got.TicketID != attempt.TicketID {
		t.Errorf("attempt = %+v", got)
	}

	if _, _, err := f.svc.GetAttempt(ctx, otherSession, attempt.ReservationID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("GetAttempt() by another buyer error = %v, want ErrForbidden", err)
	}
	if _, _, err := f.svc.GetAttempt(ctx, adminSession, attempt.ReservationID); err != nil {
		t.Errorf("GetAttempt() by admin error = %v", err)
	}
}

func TestResolveReconciliationAlert(t *testing.T) {
	f := newSettlementFixture(t, nil)
	ctx := context.Background()

	alert := domain.NewReconciliationAlert(nil, "onchain", "0xdead", "reservation expired")
	if err := f.alerts.Create(ctx, alert); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.ListReconciliationAlerts(ctx, buyerSession, true); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("ListReconciliationAlerts() error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.ResolveReconciliationAlert(ctx, organizerSession, alert.ID, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("ResolveReconciliationAlert() error = %v, want ErrForbidden", err)
	}

	resolved, err := f.svc.ResolveReconciliationAlert(ctx, adminSession, alert.ID, "refunded manually")
	if err != nil {
		t.Fatalf("ResolveReconciliationAlert() error = %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy != adminSession.UserID {
		t.Errorf("alert = %+v", resolved)
	}

	open, err := f.svc.ListReconciliationAlerts(ctx, adminSession, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts = %d, want 0", len(open))
	}
}
