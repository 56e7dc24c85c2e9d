package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/metrics"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/retry"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProviderRegistry resolves payment providers by kind
type ProviderRegistry interface {
	Get(kind gateway.Kind) (gateway.Provider, error)
}

// PaymentVerifier checks a buyer-reported payment reference before it counts as paid
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, req *gateway.PaymentRequest, reference string) error
}

// PaymentCallbacks routes asynchronous provider outcomes to the purchase waiting for them
type PaymentCallbacks interface {
	Deliver(reservationID string, result *gateway.Result) error
	Handoff(reservationID string) (*gateway.Handoff, bool)
}

// SettlementService drives a purchase from request to ticket:
// REQUESTED -> RESERVED -> PAYING -> CONFIRMED | FAILED
type SettlementService interface {
	// Purchase runs the whole flow and returns the final attempt
	Purchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error)

	// StartPurchase reserves synchronously and settles payment in the background
	StartPurchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error)

	// GetAttempt returns the attempt and, while payment is pending, what the UI needs to pay
	GetAttempt(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, *gateway.Handoff, error)

	// Cancel releases the buyer's hold
	Cancel(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, error)

	// HandlePaymentOutcome accepts a provider callback, including ones that arrive after the purchase gave up
	HandlePaymentOutcome(ctx context.Context, provider gateway.Kind, reservationID string, result *gateway.Result) (*domain.Attempt, error)

	// ReportWalletOutcome accepts the buyer's wallet report for their own reservation
	ReportWalletOutcome(ctx context.Context, session *domain.Session, reservationID string, outcome *gateway.WalletOutcome) (*domain.Attempt, error)

	ListReconciliationAlerts(ctx context.Context, session *domain.Session, openOnly bool) ([]*domain.ReconciliationAlert, error)
	ResolveReconciliationAlert(ctx context.Context, session *domain.Session, id, note string) (*domain.ReconciliationAlert, error)

	// PruneAttempts forgets settled attempts older than the retention window
	PruneAttempts(now time.Time) int

	// Wait blocks until background settlements finish
	Wait()
}

// SettlementServiceConfig contains configuration for the settlement service
type SettlementServiceConfig struct {
	ReservationTTL time.Duration
	PaymentTimeout time.Duration
	MaxPerPurchase int
	AttemptRetain  time.Duration
	// Retry applies to ledger and ticket writes after a payment succeeded
	Retry *retry.Config
}

type settlementService struct {
	events    repository.EventRepository
	ledger    repository.LedgerRepository
	providers ProviderRegistry
	callbacks PaymentCallbacks
	issuer    TicketIssuer
	alerts    repository.AlertRepository
	publisher EventPublisher

	ttl            time.Duration
	paymentTimeout time.Duration
	maxPerPurchase int
	attemptRetain  time.Duration
	retrier        *retry.Retrier
	now            func() time.Time

	mu       sync.Mutex
	attempts map[string]*domain.Attempt
	// on-chain tx hash -> reservation it was reported for
	claims map[string]string
	wg     sync.WaitGroup
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(
	events repository.EventRepository,
	ledger repository.LedgerRepository,
	providers ProviderRegistry,
	callbacks PaymentCallbacks,
	issuer TicketIssuer,
	alerts repository.AlertRepository,
	publisher EventPublisher,
	cfg *SettlementServiceConfig,
) SettlementService {
	ttl := repository.DefaultReservationTTL
	paymentTimeout := 2 * time.Minute
	maxPerPurchase := 10
	attemptRetain := time.Hour
	var retryCfg *retry.Config
	if cfg != nil {
		if cfg.ReservationTTL > 0 {
			ttl = cfg.ReservationTTL
		}
		if cfg.PaymentTimeout > 0 {
			paymentTimeout = cfg.PaymentTimeout
		}
		if cfg.MaxPerPurchase > 0 {
			maxPerPurchase = cfg.MaxPerPurchase
		}
		if cfg.AttemptRetain > 0 {
			attemptRetain = cfg.AttemptRetain
		}
		retryCfg = cfg.Retry
	}
	// the hold must outlive the payment wait
	if paymentTimeout >= ttl {
		paymentTimeout = ttl * 4 / 5
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}

	return &settlementService{
		events:         events,
		ledger:         ledger,
		providers:      providers,
		callbacks:      callbacks,
		issuer:         issuer,
		alerts:         alerts,
		publisher:      publisher,
		ttl:            ttl,
		paymentTimeout: paymentTimeout,
		maxPerPurchase: maxPerPurchase,
		attemptRetain:  attemptRetain,
		retrier:        retry.New(retryCfg),
		now:            func() time.Time { return time.Now().UTC() },
		attempts:       make(map[string]*domain.Attempt),
		claims:         make(map[string]string),
	}
}

// purchase carries what the payment phase needs
type purchase struct {
	event       *domain.Event
	tier        *domain.Tier
	provider    gateway.Provider
	reservation *domain.Reservation
}

func (s *settlementService) Purchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.purchase")
	defer span.End()

	p, err := s.reserve(ctx, session, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("reservation_id", p.reservation.ID))

	attempt, err := s.pay(ctx, p)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return attempt, err
}

func (s *settlementService) StartPurchase(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*domain.Attempt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.start_purchase")
	defer span.End()

	p, err := s.reserve(ctx, session, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("reservation_id", p.reservation.ID))

	// keep trace values but not the request's cancellation
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.pay(bg, p); err != nil {
			logger.Get().Info("Purchase did not settle",
				zap.String("reservation_id", p.reservation.ID),
				zap.Error(err),
			)
		}
	}()

	return s.snapshot(p.reservation.ID), nil
}

// reserve runs REQUESTED and RESERVED
func (s *settlementService) reserve(ctx context.Context, session *domain.Session, req *dto.PurchaseRequest) (*purchase, error) {
	if !session.Authenticated() {
		return nil, &domain.SettlementError{Op: "purchase", Err: domain.ErrUnauthorized}
	}
	if req == nil {
		return nil, &domain.SettlementError{Op: "purchase", Err: domain.ErrInvalidQuantity}
	}
	fail := func(tierID string, err error) (*purchase, error) {
		return nil, &domain.SettlementError{Op: "purchase", EventID: req.EventID, TierID: tierID, Err: err}
	}

	if req.Quantity < 1 || req.Quantity > s.maxPerPurchase {
		return fail(req.TierID, fmt.Errorf("%w: must be between 1 and %d", domain.ErrInvalidQuantity, s.maxPerPurchase))
	}

	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return fail(req.TierID, err)
	}
	if !event.OnSale() {
		return fail(req.TierID, domain.ErrEventNotOnSale)
	}

	var tier *domain.Tier
	var ok bool
	if req.TierID != "" {
		tier, ok = event.Tier(req.TierID)
	} else {
		tier, ok = event.TierByName(req.TierName)
	}
	if !ok {
		return fail(req.TierID, domain.ErrTierNotFound)
	}

	provider, err := s.providers.Get(gateway.Kind(req.Provider))
	if err != nil {
		return fail(tier.ID, err)
	}

	now := s.now()
	attempt := &domain.Attempt{
		EventID:   event.ID,
		TierID:    tier.ID,
		BuyerID:   session.UserID,
		Quantity:  req.Quantity,
		Provider:  string(provider.Kind()),
		State:     domain.AttemptRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.ledger.Reserve(ctx, repository.ReserveParams{
		EventID:  event.ID,
		TierID:   tier.ID,
		BuyerID:  session.UserID,
		Quantity: req.Quantity,
		TTL:      s.ttl,
	})
	if err != nil {
		metrics.ReservationRejected(rejectionLabel(err))
		return fail(tier.ID, err)
	}
	metrics.ReservationCreated()

	attempt.ReservationID = res.ID
	attempt.Amount = res.TotalPrice()
	attempt.ExpiresAt = res.ExpiresAt
	attempt.State = domain.AttemptReserved
	attempt.UpdatedAt = s.now()

	s.mu.Lock()
	s.attempts[res.ID] = attempt
	s.mu.Unlock()

	if err := s.publisher.PublishReservationCreated(ctx, res); err != nil {
		logger.Get().Warn("Failed to publish reservation created event",
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}

	return &purchase{event: event, tier: tier, provider: provider, reservation: res}, nil
}

// pay runs PAYING and settles the attempt. No ledger lock is held while the provider works.
func (s *settlementService) pay(ctx context.Context, p *purchase) (*domain.Attempt, error) {
	res := p.reservation
	kind := p.provider.Kind()
	s.update(res.ID, func(a *domain.Attempt) { a.State = domain.AttemptPaying })

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.provider.Execute(payCtx, &gateway.PaymentRequest{
		ReservationID: res.ID,
		EventID:       p.event.ID,
		EventTitle:    p.event.Title,
		BuyerID:       res.BuyerID,
		Amount:        res.TotalPrice(),
		Instruction:   instructionFor(kind, p.event),
	})

	// settlement must finish even if the caller went away
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		if payCtx.Err() != nil {
			metrics.PaymentOutcome(string(kind), "timeout", time.Since(start))
			return s.settleTimeout(ctx, res.ID)
		}
		result = gateway.Failure(gateway.FailureNetwork, err.Error())
	}
	metrics.PaymentOutcome(string(kind), string(result.Outcome), time.Since(start))

	if result.IsSuccess() {
		return s.settleSuccess(ctx, res.ID, kind, result.Reference, p.tier.Name)
	}
	return s.settleFailure(ctx, res.ID, result)
}

func instructionFor(kind gateway.Kind, event *domain.Event) gateway.Instruction {
	switch kind {
	case gateway.KindOnChain:
		return gateway.OnChainTransfer{Recipient: event.OrganizerWallet}
	case gateway.KindHostedCheckout:
		return gateway.HostedCheckout{Description: "Tickets for " + event.Title}
	default:
		return nil
	}
}

// settleSuccess confirms the reservation and issues its ticket
func (s *settlementService) settleSuccess(ctx context.Context, reservationID string, provider gateway.Kind, reference, tierName string) (*domain.Attempt, error) {
	ticket, err := s.confirmAndIssue(ctx, reservationID, provider, reference, tierName)
	if err != nil {
		return s.fail(reservationID, err)
	}

	attempt := s.update(reservationID, func(a *domain.Attempt) {
		a.State = domain.AttemptConfirmed
		a.TicketID = ticket.ID
		a.PaymentReference = reference
		a.Err = nil
	})
	if attempt == nil {
		attempt = attemptFromTicket(ticket)
	}
	return attempt, nil
}

func (s *settlementService) confirmAndIssue(ctx context.Context, reservationID string, provider gateway.Kind, reference, tierName string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	settledBefore := false
	if prior, err := s.ledger.Get(ctx, reservationID); err == nil {
		settledBefore = prior.State == domain.ReservationConfirmed
	}

	var confirmed *domain.Reservation
	r := s.retrier.Do(ctx, func(ctx context.Context) error {
		res, err := s.ledger.Confirm(ctx, reservationID)
		if err != nil {
			if isLedgerVerdict(err) {
				return retry.Permanent(err)
			}
			return err
		}
		confirmed = res
		return nil
	}, nil)
	if err := retryError(r); err != nil {
		telemetry.RecordError(span, err)
		if isLedgerVerdict(err) {
			s.raiseAlert(ctx, reservationID, provider, reference, err)
			return nil, fmt.Errorf("%w: %v", domain.ErrReconciliationConflict, err)
		}
		return nil, err
	}
	if !settledBefore {
		metrics.ReservationConfirmed()
		if err := s.publisher.PublishReservationConfirmed(ctx, confirmed); err != nil {
			logger.Get().Warn("Failed to publish reservation confirmed event",
				zap.String("reservation_id", reservationID),
				zap.Error(err),
			)
		}
	}

	var ticket *domain.Ticket
	r = s.retrier.Do(ctx, func(ctx context.Context) error {
		t, err := s.issuer.Issue(ctx, confirmed, PaymentInfo{
			Provider:  string(provider),
			Reference: reference,
			TierName:  tierName,
		})
		if errors.Is(err, domain.ErrReservationNotConfirmed) {
			return retry.Permanent(err)
		}
		ticket = t
		return err
	}, nil)
	if err := retryError(r); err != nil {
		// the sale stands; a repeated callback or the next poll re-issues
		logger.Get().Error("Reservation confirmed but ticket not issued",
			zap.String("reservation_id", reservationID),
			zap.String("payment_reference", reference),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return nil, err
	}

	// a repeated callback carries the same reference; a different one is a second charge
	if ticket.PaymentReference != reference {
		cause := fmt.Errorf("reservation already settled by payment %q", ticket.PaymentReference)
		telemetry.RecordError(span, cause)
		s.raiseAlert(ctx, reservationID, provider, reference, cause)
		return nil, fmt.Errorf("%w: %v", domain.ErrReconciliationConflict, cause)
	}
	return ticket, nil
}

// settleFailure releases the hold after a failed or cancelled payment
func (s *settlementService) settleFailure(ctx context.Context, reservationID string, result *gateway.Result) (*domain.Attempt, error) {
	reason := domain.ReleasePaymentFailed
	if result.Outcome == gateway.OutcomeUserCancelled {
		reason = domain.ReleaseCancelled
	}

	res, err := s.release(ctx, reservationID, reason)
	if err != nil {
		return s.fail(reservationID, err)
	}
	if res.State == domain.ReservationConfirmed {
		return s.confirmedElsewhere(res), nil
	}
	return s.fail(reservationID, result.Err())
}

// settleTimeout releases the hold when no outcome arrived in time
func (s *settlementService) settleTimeout(ctx context.Context, reservationID string) (*domain.Attempt, error) {
	res, err := s.release(ctx, reservationID, domain.ReleaseTimeout)
	if err != nil {
		return s.fail(reservationID, err)
	}
	if res.State == domain.ReservationConfirmed {
		// a callback confirmed the reservation first
		return s.confirmedElsewhere(res), nil
	}
	return s.fail(reservationID, domain.ErrPaymentTimeout)
}

func (s *settlementService) release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.Reservation, error) {
	current, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if current.State.IsTerminal() {
		return current, nil
	}

	var res *domain.Reservation
	r := s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.ledger.Release(ctx, reservationID, reason)
		if err != nil && isLedgerVerdict(err) {
			return retry.Permanent(err)
		}
		return err
	}, nil)
	if err := retryError(r); err != nil {
		return nil, err
	}

	if res.State == domain.ReservationReleased && res.ReleaseReason == reason {
		metrics.ReservationReleased(string(reason), 1)
		if err := s.publisher.PublishReservationReleased(ctx, res); err != nil {
			logger.Get().Warn("Failed to publish reservation released event",
				zap.String("reservation_id", reservationID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

func (s *settlementService) confirmedElsewhere(res *domain.Reservation) *domain.Attempt {
	ticketID := domain.TicketIDFor(res.ID)
	attempt := s.update(res.ID, func(a *domain.Attempt) {
		a.State = domain.AttemptConfirmed
		a.TicketID = ticketID
		a.Err = nil
	})
	if attempt == nil {
		attempt = attemptFromReservation(res)
	}
	return attempt
}

// raiseAlert records money that arrived for a reservation that can no longer be confirmed
func (s *settlementService) raiseAlert(ctx context.Context, reservationID string, provider gateway.Kind, reference string, cause error) {
	res, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		res = nil
	}

	reason := cause.Error()
	if res != nil && res.State == domain.ReservationReleased {
		reason = fmt.Sprintf("reservation released (%s) before payment settled", res.ReleaseReason)
	}

	alert := domain.NewReconciliationAlert(res, string(provider), reference, reason)
	if res == nil {
		alert.ReservationID = reservationID
	}

	logger.Get().Error("Payment succeeded without a live reservation",
		zap.String("alert_id", alert.ID),
		zap.String("reservation_id", reservationID),
		zap.String("event_id", alert.EventID),
		zap.String("tier_id", alert.TierID),
		zap.String("provider", string(provider)),
		zap.String("payment_reference", reference),
		zap.String("amount", alert.Amount.String()),
		zap.String("reason", reason),
	)
	metrics.ReconciliationAlert(string(provider))

	if err := s.alerts.Create(ctx, alert); err != nil {
		logger.Get().Error("Failed to store reconciliation alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
	if err := s.publisher.PublishReconciliationAlert(ctx, alert); err != nil {
		logger.Get().Warn("Failed to publish reconciliation alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

// fail marks the attempt FAILED. A confirmed attempt keeps its state, but a
// reconciliation conflict is still returned to the caller.
func (s *settlementService) fail(reservationID string, err error) (*domain.Attempt, error) {
	conflict := errors.Is(err, domain.ErrReconciliationConflict)
	attempt := s.update(reservationID, func(a *domain.Attempt) {
		if a.State == domain.AttemptConfirmed {
			return
		}
		if a.State == domain.AttemptFailed && !conflict {
			return
		}
		a.State = domain.AttemptFailed
		a.Err = err
	})

	serr := &domain.SettlementError{Op: "settle", ReservationID: reservationID, Err: err}
	if attempt != nil {
		serr.EventID = attempt.EventID
		serr.TierID = attempt.TierID
		if attempt.State == domain.AttemptConfirmed {
			if conflict {
				return attempt, serr
			}
			return attempt, nil
		}
		if attempt.Err != nil {
			serr.Err = attempt.Err
		}
	}
	return attempt, serr
}

// update applies fn to the stored attempt and returns a copy, or nil if unknown
func (s *settlementService) update(reservationID string, fn func(a *domain.Attempt)) *domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[reservationID]
	if !ok {
		return nil
	}
	fn(a)
	a.UpdatedAt = s.now()
	return a.Clone()
}

func (s *settlementService) snapshot(reservationID string) *domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[reservationID]
	if !ok {
		return nil
	}
	return a.Clone()
}

func (s *settlementService) GetAttempt(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, *gateway.Handoff, error) {
	if !session.Authenticated() {
		return nil, nil, domain.ErrUnauthorized
	}

	if a := s.snapshot(reservationID); a != nil {
		if !session.CanAccess(a.BuyerID) {
			return nil, nil, domain.ErrForbidden
		}
		var handoff *gateway.Handoff
		if a.State == domain.AttemptPaying {
			handoff, _ = s.callbacks.Handoff(reservationID)
		}
		return a, handoff, nil
	}

	// attempts are not durable; rebuild the view from the ledger
	res, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if !session.CanAccess(res.BuyerID) {
		return nil, nil, domain.ErrForbidden
	}
	return attemptFromReservation(res), nil, nil
}

func (s *settlementService) Cancel(ctx context.Context, session *domain.Session, reservationID string) (*domain.Attempt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	res, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !session.CanAccess(res.BuyerID) {
		return nil, domain.ErrForbidden
	}

	released, err := s.release(ctx, reservationID, domain.ReleaseCancelled)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if released.State == domain.ReservationConfirmed {
		return nil, &domain.SettlementError{
			Op:            "cancel",
			EventID:       released.EventID,
			TierID:        released.TierID,
			ReservationID: released.ID,
			Err:           domain.ErrAlreadyTerminal,
		}
	}

	// stop a payment that is still waiting for the wallet or widget
	_ = s.callbacks.Deliver(reservationID, gateway.Cancelled("Cancelled by buyer"))

	attempt := s.update(reservationID, func(a *domain.Attempt) {
		if a.State.IsFinal() {
			return
		}
		a.State = domain.AttemptFailed
		a.Err = domain.ErrPaymentCancelledByUser
	})
	if attempt == nil {
		attempt = attemptFromReservation(released)
	}
	return attempt, nil
}

func (s *settlementService) HandlePaymentOutcome(ctx context.Context, provider gateway.Kind, reservationID string, result *gateway.Result) (*domain.Attempt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.payment_outcome")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("provider", string(provider)),
	)

	if result == nil {
		return nil, fmt.Errorf("payment result is required")
	}

	err := s.callbacks.Deliver(reservationID, result)
	if err == nil {
		return s.snapshot(reservationID), nil
	}
	if !errors.Is(err, gateway.ErrNoPendingPayment) {
		return nil, err
	}

	// nobody waits: the purchase timed out, was cancelled, or the process restarted
	logger.Get().Warn("Payment outcome arrived with no waiting purchase",
		zap.String("reservation_id", reservationID),
		zap.String("provider", string(provider)),
		zap.String("outcome", string(result.Outcome)),
	)

	if result.IsSuccess() {
		return s.settleSuccess(ctx, reservationID, provider, result.Reference, s.tierName(ctx, reservationID))
	}
	return s.settleFailure(ctx, reservationID, result)
}

func (s *settlementService) ReportWalletOutcome(ctx context.Context, session *domain.Session, reservationID string, outcome *gateway.WalletOutcome) (*domain.Attempt, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if outcome == nil {
		return nil, fmt.Errorf("wallet outcome is required")
	}
	res, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !session.CanAccess(res.BuyerID) {
		return nil, domain.ErrForbidden
	}

	result := outcome.Result()
	if result.IsSuccess() {
		result.Reference = strings.ToLower(result.Reference)
		if err := s.verifyWalletPayment(ctx, res, result.Reference); err != nil {
			logger.Get().Warn("Wallet payment rejected",
				zap.String("reservation_id", reservationID),
				zap.String("tx_hash", result.Reference),
				zap.Error(err),
			)
			return nil, err
		}
	}
	return s.HandlePaymentOutcome(ctx, gateway.KindOnChain, reservationID, result)
}

// verifyWalletPayment checks that txHash paid this reservation on chain and has not
// already paid for another one
func (s *settlementService) verifyWalletPayment(ctx context.Context, res *domain.Reservation, txHash string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.verify_wallet_payment")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", res.ID))

	if a := s.snapshot(res.ID); a != nil && a.Provider != string(gateway.KindOnChain) {
		return fmt.Errorf("%w: reservation is paid through %s", domain.ErrPaymentUnverified, a.Provider)
	}

	provider, err := s.providers.Get(gateway.KindOnChain)
	if err != nil {
		return err
	}
	verifier, ok := provider.(PaymentVerifier)
	if !ok {
		return fmt.Errorf("%w: on-chain payments cannot be verified", domain.ErrPaymentUnverified)
	}
	event, err := s.events.GetByID(ctx, res.EventID)
	if err != nil {
		return err
	}

	if err := s.claimPayment(ctx, txHash, res.ID); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	err = verifier.VerifyPayment(ctx, &gateway.PaymentRequest{
		ReservationID: res.ID,
		EventID:       event.ID,
		EventTitle:    event.Title,
		BuyerID:       res.BuyerID,
		Amount:        res.TotalPrice(),
		Instruction:   instructionFor(gateway.KindOnChain, event),
	}, txHash)
	if err != nil {
		s.releaseClaim(txHash, res.ID)
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// claimPayment reserves txHash for one reservation, so a single transfer cannot settle two
func (s *settlementService) claimPayment(ctx context.Context, txHash, reservationID string) error {
	ticket, err := s.issuer.FindByPayment(ctx, string(gateway.KindOnChain), txHash)
	switch {
	case err == nil && ticket.ReservationID != reservationID:
		return fmt.Errorf("%w: transaction %s already paid for another reservation", domain.ErrPaymentUnverified, txHash)
	case err != nil && !errors.Is(err, domain.ErrTicketNotFound):
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.claims[txHash]; ok && owner != reservationID {
		return fmt.Errorf("%w: transaction %s already paid for another reservation", domain.ErrPaymentUnverified, txHash)
	}
	s.claims[txHash] = reservationID
	return nil
}

func (s *settlementService) releaseClaim(txHash, reservationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[txHash] == reservationID {
		delete(s.claims, txHash)
	}
}

func (s *settlementService) tierName(ctx context.Context, reservationID string) string {
	if a := s.snapshot(reservationID); a != nil {
		if event, err := s.events.GetByID(ctx, a.EventID); err == nil {
			if t, ok := event.Tier(a.TierID); ok {
				return t.Name
			}
		}
	}
	res, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return ""
	}
	event, err := s.events.GetByID(ctx, res.EventID)
	if err != nil {
		return ""
	}
	if t, ok := event.Tier(res.TierID); ok {
		return t.Name
	}
	return ""
}

func (s *settlementService) ListReconciliationAlerts(ctx context.Context, session *domain.Session, openOnly bool) ([]*domain.ReconciliationAlert, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if !session.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	return s.alerts.List(ctx, openOnly)
}

func (s *settlementService) ResolveReconciliationAlert(ctx context.Context, session *domain.Session, id, note string) (*domain.ReconciliationAlert, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if !session.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved {
		return alert, nil
	}
	alert.Resolve(session.UserID, note)
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	logger.Get().Info("Reconciliation alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("resolved_by", session.UserID),
	)
	return alert, nil
}

func (s *settlementService) PruneAttempts(now time.Time) int {
	cutoff := now.Add(-s.attemptRetain)
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, a := range s.attempts {
		if a.State.IsFinal() && a.UpdatedAt.Before(cutoff) {
			delete(s.attempts, id)
			pruned++
		}
	}
	// issued tickets keep guarding their tx hash after the claim is gone
	for hash, id := range s.claims {
		if _, ok := s.attempts[id]; !ok {
			delete(s.claims, hash)
		}
	}
	return pruned
}

func (s *settlementService) Wait() {
	s.wg.Wait()
}

// isLedgerVerdict reports errors that retrying cannot change
func isLedgerVerdict(err error) bool {
	return errors.Is(err, domain.ErrAlreadyTerminal) ||
		errors.Is(err, domain.ErrReservationExpired) ||
		errors.Is(err, domain.ErrReservationNotFound)
}

func retryError(r *retry.Result) error {
	if r.Err == nil {
		return nil
	}
	if errors.Is(r.Err, retry.ErrMaxRetriesExceeded) && r.LastError != nil {
		return r.LastError
	}
	return r.Err
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, domain.ErrTierNotFound):
		return "tier_not_found"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_quantity"
	default:
		return "error"
	}
}

// attemptFromReservation rebuilds an attempt view from durable state
func attemptFromReservation(res *domain.Reservation) *domain.Attempt {
	a := &domain.Attempt{
		ReservationID: res.ID,
		EventID:       res.EventID,
		TierID:        res.TierID,
		BuyerID:       res.BuyerID,
		Quantity:      res.Quantity,
		Amount:        res.TotalPrice(),
		ExpiresAt:     res.ExpiresAt,
		CreatedAt:     res.CreatedAt,
		UpdatedAt:     res.CreatedAt,
	}
	switch res.State {
	case domain.ReservationHeld:
		a.State = domain.AttemptReserved
	case domain.ReservationConfirmed:
		a.State = domain.AttemptConfirmed
		a.TicketID = domain.TicketIDFor(res.ID)
		if res.ConfirmedAt != nil {
			a.UpdatedAt = *res.ConfirmedAt
		}
	default:
		a.State = domain.AttemptFailed
		a.Err = releaseError(res.ReleaseReason)
		if res.ReleasedAt != nil {
			a.UpdatedAt = *res.ReleasedAt
		}
	}
	return a
}

func attemptFromTicket(t *domain.Ticket) *domain.Attempt {
	return &domain.Attempt{
		ReservationID:    t.ReservationID,
		EventID:          t.EventID,
		TierID:           t.TierID,
		BuyerID:          t.BuyerID,
		Quantity:         t.Quantity,
		Provider:         t.PaymentProvider,
		Amount:           t.TotalPrice,
		State:            domain.AttemptConfirmed,
		TicketID:         t.ID,
		PaymentReference: t.PaymentReference,
		CreatedAt:        t.PurchasedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func releaseError(reason domain.ReleaseReason) error {
	switch reason {
	case domain.ReleaseCancelled:
		return domain.ErrPaymentCancelledByUser
	case domain.ReleaseExpired:
		return domain.ErrReservationExpired
	case domain.ReleaseTimeout:
		return domain.ErrPaymentTimeout
	default:
		return domain.ErrPaymentRejected
	}
}
