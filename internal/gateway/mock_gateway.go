package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockGateway settles payments locally for development and load testing
type MockGateway struct {
	config   *MockGatewayConfig
	mu       sync.Mutex
	settled  map[string]decimal.Decimal
	refunded map[string]bool
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of successful payment (0.0 to 1.0)
	SuccessRate float64

	// Delay is the simulated processing time
	Delay time.Duration

	// FailureReasons is a list of possible failure reasons
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		Delay:       100 * time.Millisecond,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"processing_error",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}

	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}
	if len(config.FailureReasons) == 0 {
		config.FailureReasons = []string{"card_declined"}
	}

	return &MockGateway{
		config:   config,
		settled:  make(map[string]decimal.Decimal),
		refunded: make(map[string]bool),
	}
}

// Kind returns the rail this gateway serves
func (g *MockGateway) Kind() Kind {
	return KindMock
}

// Execute simulates a payment
func (g *MockGateway) Execute(ctx context.Context, req *PaymentRequest) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request is required")
	}

	// Simulate processing delay
	if g.config.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.config.Delay):
		}
	}

	if rand.Float64() >= g.config.SuccessRate {
		reason := g.config.FailureReasons[rand.Intn(len(g.config.FailureReasons))]
		return Failure(FailureRejected, reason), nil
	}

	reference := fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8])

	g.mu.Lock()
	g.settled[reference] = req.Amount
	g.mu.Unlock()

	return Success(reference), nil
}

// Refund marks a mock payment refunded
func (g *MockGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	paid, ok := g.settled[reference]
	if !ok {
		return fmt.Errorf("transaction not found: %s", reference)
	}
	if g.refunded[reference] {
		return fmt.Errorf("transaction already refunded: %s", reference)
	}
	if amount.GreaterThan(paid) {
		return fmt.Errorf("refund amount %s exceeds payment %s", amount, paid)
	}

	g.refunded[reference] = true
	return nil
}
