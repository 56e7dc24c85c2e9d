package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/config"
)

// MockCheckoutClient is a mock implementation of CheckoutClient
type MockCheckoutClient struct {
	mock.Mock
}

func (m *MockCheckoutClient) CreatePaymentIntent(ctx context.Context, req *CheckoutIntentRequest) (*CheckoutIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutIntent), args.Error(1)
}

func (m *MockCheckoutClient) CancelPaymentIntent(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *MockCheckoutClient) Refund(ctx context.Context, intentID string, amountMinor int64) error {
	args := m.Called(ctx, intentID, amountMinor)
	return args.Error(0)
}

func trustingOnChain() *OnChainConfig {
	cfg := DefaultOnChainConfig()
	cfg.Verifier = TrustingVerifier{}
	return cfg
}

// waitForHandoff polls the hub until Execute has published its handoff
func waitForHandoff(t *testing.T, hub *CallbackHub, reservationID string) *Handoff {
	t.Helper()
	var h *Handoff
	require.Eventually(t, func() bool {
		var ok bool
		h, ok = hub.Handoff(reservationID)
		return ok
	}, time.Second, 5*time.Millisecond)
	return h
}

func TestResult_Err(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   error
	}{
		{"success", Success("ref"), nil},
		{"cancelled", Cancelled("Transaction rejected by user"), domain.ErrPaymentCancelledByUser},
		{"rejected", Failure(FailureRejected, "card_declined"), domain.ErrPaymentRejected},
		{"network", Failure(FailureNetwork, "timeout"), domain.ErrPaymentNetworkError},
		{"nil", nil, domain.ErrPaymentNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Err()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Contains(t, Failure(FailureRejected, "card_declined").Err().Error(), "card_declined")
}

func TestWalletOutcome_Result(t *testing.T) {
	tests := []struct {
		name    string
		outcome WalletOutcome
		want    Outcome
		kind    FailureKind
	}{
		{"tx hash", WalletOutcome{TxHash: "0xabc"}, OutcomeSuccess, ""},
		{"user rejected", WalletOutcome{ErrorCode: 4001}, OutcomeUserCancelled, ""},
		{"rpc internal", WalletOutcome{ErrorCode: -32603}, OutcomeFailure, FailureNetwork},
		{"insufficient funds", WalletOutcome{ErrorMessage: "insufficient funds for gas * price + value"}, OutcomeFailure, FailureRejected},
		{"other", WalletOutcome{ErrorCode: -32000, ErrorMessage: "nonce too low"}, OutcomeFailure, FailureRejected},
		{"empty", WalletOutcome{}, OutcomeFailure, FailureRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.outcome.Result()
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.kind, res.FailureKind)
		})
	}
}

func TestCallbackHub(t *testing.T) {
	hub := NewCallbackHub()

	assert.ErrorIs(t, hub.Deliver("res-1", Success("x")), ErrNoPendingPayment)

	done := make(chan *Result, 1)
	go func() {
		res, err := hub.Await(context.Background(), &Handoff{ReservationID: "res-1"})
		assert.NoError(t, err)
		done <- res
	}()

	waitForHandoff(t, hub, "res-1")
	assert.Equal(t, 1, hub.Pending())
	require.NoError(t, hub.Deliver("res-1", Success("0xabc")))
	assert.ErrorIs(t, hub.Deliver("res-1", Success("0xdef")), ErrNoPendingPayment)

	res := <-done
	assert.Equal(t, "0xabc", res.Reference)
	assert.Equal(t, 0, hub.Pending())
}

func TestCallbackHub_ContextCancel(t *testing.T) {
	hub := NewCallbackHub()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := hub.Await(ctx, &Handoff{ReservationID: "res-1"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, hub.Pending())
}

func TestOnChainGateway_Execute(t *testing.T) {
	hub := NewCallbackHub()
	_, err := NewOnChainGateway(nil, hub)
	assert.Error(t, err, "a gateway without a receipt verifier would trust any tx hash")

	gw, err := NewOnChainGateway(trustingOnChain(), hub)
	require.NoError(t, err)
	assert.Equal(t, KindOnChain, gw.Kind())

	var wg sync.WaitGroup
	var res *Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err = gw.Execute(context.Background(), &PaymentRequest{
			ReservationID: "res-1",
			Amount:        decimal.RequireFromString("0.15"),
			Instruction:   OnChainTransfer{},
		})
	}()

	h := waitForHandoff(t, hub, "res-1")
	assert.Equal(t, DefaultRecipient, h.Recipient)
	assert.Equal(t, DefaultChainID, h.ChainID)
	assert.Equal(t, "150000000000000000", h.AmountWei)

	out := WalletOutcome{ErrorCode: WalletCodeUserRejected}
	require.NoError(t, hub.Deliver("res-1", out.Result()))
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, OutcomeUserCancelled, res.Outcome)
	assert.Equal(t, "Transaction rejected by user", res.Reason)
}

func TestOnChainGateway_InvalidRecipient(t *testing.T) {
	_, err := NewOnChainGateway(&OnChainConfig{Recipient: "0x123", Verifier: TrustingVerifier{}}, NewCallbackHub())
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)

	gw, err := NewOnChainGateway(trustingOnChain(), NewCallbackHub())
	require.NoError(t, err)

	res, err := gw.Execute(context.Background(), &PaymentRequest{
		ReservationID: "res-1",
		Amount:        decimal.NewFromInt(1),
		Instruction:   OnChainTransfer{Recipient: "not-an-address"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, FailureRejected, res.FailureKind)
}

func TestHostedCheckoutGateway_Execute(t *testing.T) {
	client := new(MockCheckoutClient)
	hub := NewCallbackHub()
	gw, err := NewHostedCheckoutGateway(nil, client, hub)
	require.NoError(t, err)

	client.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req *CheckoutIntentRequest) bool {
		return req.AmountMinor == 123456 && req.Currency == "inr" &&
			req.Description == "Tickets for Jazz Night" && req.Metadata["reservation_id"] == "res-1"
	})).Return(&CheckoutIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := gw.Execute(context.Background(), &PaymentRequest{
			ReservationID: "res-1",
			EventTitle:    "Jazz Night",
			Amount:        decimal.RequireFromString("1234.56"),
		})
		done <- outcome{res, err}
	}()

	h := waitForHandoff(t, hub, "res-1")
	assert.Equal(t, "pi_1_secret", h.ClientSecret)
	assert.Equal(t, "EventTix", h.Merchant)

	require.NoError(t, hub.Deliver("res-1", Success("pi_1")))
	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.IsSuccess())
	assert.Equal(t, "pi_1", got.res.Reference)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "CancelPaymentIntent", mock.Anything, mock.Anything)
}

func TestHostedCheckoutGateway_CancelsIntentWhenHoldEnds(t *testing.T) {
	tests := []struct {
		name    string
		settle  func(hub *CallbackHub, cancel context.CancelFunc)
		wantErr error
		outcome Outcome
	}{
		{
			name: "buyer cancelled",
			settle: func(hub *CallbackHub, cancel context.CancelFunc) {
				_ = hub.Deliver("res-1", Cancelled("Payment cancelled"))
			},
			outcome: OutcomeUserCancelled,
		},
		{
			name: "card declined",
			settle: func(hub *CallbackHub, cancel context.CancelFunc) {
				_ = hub.Deliver("res-1", Failure(FailureRejected, "card_declined"))
			},
			outcome: OutcomeFailure,
		},
		{
			name: "payment window closed",
			settle: func(hub *CallbackHub, cancel context.CancelFunc) {
				cancel()
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockCheckoutClient)
			hub := NewCallbackHub()
			gw, err := NewHostedCheckoutGateway(nil, client, hub)
			require.NoError(t, err)

			client.On("CreatePaymentIntent", mock.Anything, mock.Anything).
				Return(&CheckoutIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil)
			client.On("CancelPaymentIntent", mock.Anything, "pi_1").Return(nil).Once()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			type outcome struct {
				res *Result
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := gw.Execute(ctx, &PaymentRequest{ReservationID: "res-1", Amount: decimal.NewFromInt(10)})
				done <- outcome{res, err}
			}()

			waitForHandoff(t, hub, "res-1")
			tt.settle(hub, cancel)
			got := <-done

			if tt.wantErr != nil {
				assert.ErrorIs(t, got.err, tt.wantErr)
			} else {
				require.NoError(t, got.err)
				assert.Equal(t, tt.outcome, got.res.Outcome)
			}
			client.AssertExpectations(t)
		})
	}
}

func TestHostedCheckoutGateway_CancelIntentErrorKeepsResult(t *testing.T) {
	client := new(MockCheckoutClient)
	hub := NewCallbackHub()
	gw, err := NewHostedCheckoutGateway(nil, client, hub)
	require.NoError(t, err)

	client.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(&CheckoutIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil)
	client.On("CancelPaymentIntent", mock.Anything, "pi_1").Return(errors.New("intent already succeeded"))

	done := make(chan *Result, 1)
	go func() {
		res, _ := gw.Execute(context.Background(), &PaymentRequest{ReservationID: "res-1", Amount: decimal.NewFromInt(10)})
		done <- res
	}()

	waitForHandoff(t, hub, "res-1")
	require.NoError(t, hub.Deliver("res-1", Cancelled("Payment cancelled")))
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, OutcomeUserCancelled, res.Outcome)
	client.AssertExpectations(t)
}

func TestHostedCheckoutGateway_CreateFails(t *testing.T) {
	client := new(MockCheckoutClient)
	gw, err := NewHostedCheckoutGateway(nil, client, NewCallbackHub())
	require.NoError(t, err)

	client.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	res, err := gw.Execute(context.Background(), &PaymentRequest{ReservationID: "res-1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, FailureNetwork, res.FailureKind)
	assert.ErrorIs(t, res.Err(), domain.ErrPaymentNetworkError)
}

func TestHostedCheckoutGateway_Refund(t *testing.T) {
	client := new(MockCheckoutClient)
	gw, err := NewHostedCheckoutGateway(nil, client, NewCallbackHub())
	require.NoError(t, err)

	client.On("Refund", mock.Anything, "pi_1", int64(5000)).Return(nil)

	require.NoError(t, gw.Refund(context.Background(), "pi_1", decimal.NewFromInt(50)))
	assert.Error(t, gw.Refund(context.Background(), "", decimal.NewFromInt(50)))
	client.AssertExpectations(t)
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()

	always := NewMockGateway(&MockGatewayConfig{SuccessRate: 1})
	res, err := always.Execute(ctx, &PaymentRequest{ReservationID: "res-1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Reference, "mock_txn_")

	assert.NoError(t, always.Refund(ctx, res.Reference, decimal.NewFromInt(20)))
	assert.Error(t, always.Refund(ctx, res.Reference, decimal.NewFromInt(20)))
	assert.Error(t, always.Refund(ctx, "unknown", decimal.NewFromInt(1)))

	never := NewMockGateway(&MockGatewayConfig{SuccessRate: 0, FailureReasons: []string{"card_declined"}})
	res, err = never.Execute(ctx, &PaymentRequest{ReservationID: "res-2"})
	require.NoError(t, err)
	assert.Equal(t, "card_declined", res.Reason)

	slow := NewMockGateway(&MockGatewayConfig{SuccessRate: 1, Delay: time.Second})
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = slow.Execute(cctx, &PaymentRequest{ReservationID: "res-3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistryFromConfig(context.Background(), &config.PaymentConfig{
		DefaultProvider:    "mock",
		MockEnabled:        true,
		MockSuccessRate:    1,
		OnChainTrustWallet: true,
	}, NewCallbackHub())
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []Kind{KindMock, KindOnChain}, reg.Kinds())
	assert.Equal(t, KindMock, reg.Default())

	p, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, KindMock, p.Kind())

	_, err = reg.Get(KindHostedCheckout)
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	_, ok := reg.Refunder(KindMock)
	assert.True(t, ok)
	_, ok = reg.Refunder(KindOnChain)
	assert.False(t, ok)

	_, err = NewRegistryFromConfig(context.Background(), &config.PaymentConfig{DefaultProvider: "paypal", OnChainTrustWallet: true}, NewCallbackHub())
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	_, err = NewRegistryFromConfig(context.Background(), &config.PaymentConfig{DefaultProvider: "onchain"}, NewCallbackHub())
	assert.Error(t, err, "verifying wallets needs an rpc url")
}

func stripePayload(eventType, reservationID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test",
		"object": "event",
		"type": %q,
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 5000,
			"currency": "inr",
			"metadata": {"reservation_id": %q},
			"last_payment_error": {"message": "Your card was declined."}
		}}
	}`, eventType, reservationID))
}

func TestParseStripeEvent(t *testing.T) {
	const secret = "whsec_test"

	tests := []struct {
		eventType string
		outcome   Outcome
	}{
		{"payment_intent.succeeded", OutcomeSuccess},
		{"payment_intent.payment_failed", OutcomeFailure},
		{"payment_intent.canceled", OutcomeUserCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			payload := stripePayload(tt.eventType, "res-1")
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload: payload,
				Secret:  secret,
			})

			resID, res, err := ParseStripeEvent(payload, signed.Header, secret)
			require.NoError(t, err)
			assert.Equal(t, "res-1", resID)
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.outcome == OutcomeSuccess {
				assert.Equal(t, "pi_123", res.Reference)
			}
			if tt.outcome == OutcomeFailure {
				assert.Equal(t, "Your card was declined.", res.Reason)
			}
		})
	}

	t.Run("bad signature", func(t *testing.T) {
		_, _, err := ParseStripeEvent(stripePayload("payment_intent.succeeded", "res-1"), "t=1,v1=bad", secret)
		assert.Error(t, err)
	})

	t.Run("ignored type", func(t *testing.T) {
		payload := stripePayload("charge.refunded", "res-1")
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
		_, _, err := ParseStripeEvent(payload, signed.Header, secret)
		assert.ErrorIs(t, err, ErrIgnoredEvent)
	})
}
