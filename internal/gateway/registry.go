package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/config"
)

// Registry maps provider kinds to providers. The first registered provider
// becomes the default unless SetDefault says otherwise.
type Registry struct {
	mu        sync.RWMutex
	providers map[Kind]Provider
	primary   Kind
	closers   []func()
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

// Register adds or replaces a provider
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
	if r.primary == "" {
		r.primary = p.Kind()
	}
}

// SetDefault names the provider used when a request does not pick one
func (r *Registry) SetDefault(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[kind]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, kind)
	}
	r.primary = kind
	return nil
}

// Default returns the default provider kind
func (r *Registry) Default() Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Get returns the provider for kind; an empty kind selects the default
func (r *Registry) Get(kind Kind) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == "" {
		kind = r.primary
	}
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, kind)
	}
	return p, nil
}

// Refunder returns the refund capability of a provider, if it has one
func (r *Registry) Refunder(kind Kind) (Refunder, bool) {
	p, err := r.Get(kind)
	if err != nil {
		return nil, false
	}
	rf, ok := p.(Refunder)
	return rf, ok
}

// Kinds lists the registered provider kinds
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close releases connections held by registered providers
func (r *Registry) Close() {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

func (r *Registry) onClose(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// NewRegistryFromConfig builds the providers enabled by configuration.
// The on-chain rail is always available; hosted checkout needs a Stripe key.
func NewRegistryFromConfig(ctx context.Context, cfg *config.PaymentConfig, hub *CallbackHub) (*Registry, error) {
	reg := NewRegistry()

	var verifier ReceiptVerifier = TrustingVerifier{}
	if !cfg.OnChainTrustWallet {
		rpc, err := DialRPCReceiptVerifier(ctx, cfg.OnChainRPCURL, &RPCVerifierConfig{
			Confirmations: cfg.OnChainConfirmations,
			Timeout:       cfg.OnChainVerifyTimeout,
		})
		if err != nil {
			return nil, err
		}
		reg.onClose(rpc.Close)
		verifier = rpc
	}

	onchain, err := NewOnChainGateway(&OnChainConfig{
		ChainID:   cfg.OnChainChainID,
		Recipient: cfg.OnChainRecipient,
		Decimals:  cfg.OnChainDecimals,
		Verifier:  verifier,
	}, hub)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("failed to create on-chain gateway: %w", err)
	}
	reg.Register(onchain)

	if cfg.StripeSecretKey != "" {
		client, err := NewStripeCheckoutClient(cfg.StripeSecretKey)
		if err != nil {
			reg.Close()
			return nil, err
		}
		hosted, err := NewHostedCheckoutGateway(&HostedCheckoutConfig{
			Currency: cfg.Currency,
			Merchant: cfg.Merchant,
		}, client, hub)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("failed to create hosted checkout gateway: %w", err)
		}
		reg.Register(hosted)
	}

	if cfg.MockEnabled {
		reg.Register(NewMockGateway(&MockGatewayConfig{
			SuccessRate: cfg.MockSuccessRate,
			Delay:       cfg.MockDelay,
		}))
	}

	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(Kind(cfg.DefaultProvider)); err != nil {
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}
