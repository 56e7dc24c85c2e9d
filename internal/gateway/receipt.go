package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsValidTxHash reports whether s looks like an EVM transaction hash
func IsValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// Transfer is the native-token payment a wallet reported for a reservation
type Transfer struct {
	TxHash    string
	Recipient string
	AmountWei *big.Int
	ChainID   int64
}

// ReceiptVerifier confirms that a reported transaction paid the expected transfer.
// A mismatch wraps domain.ErrPaymentUnverified; an unreachable or unfinished
// check wraps domain.ErrPaymentNetworkError so the wallet can report again.
type ReceiptVerifier interface {
	VerifyTransfer(ctx context.Context, t *Transfer) error
}

// TrustingVerifier accepts any well-formed transaction hash.
// It exists for local development against wallets with no reachable RPC node.
type TrustingVerifier struct{}

// VerifyTransfer checks the hash format only
func (TrustingVerifier) VerifyTransfer(ctx context.Context, t *Transfer) error {
	if t == nil || !IsValidTxHash(t.TxHash) {
		return fmt.Errorf("%w: malformed transaction hash", domain.ErrPaymentUnverified)
	}
	return nil
}

// ChainReader is the part of an Ethereum JSON-RPC client the verifier needs.
// *ethclient.Client implements it.
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCVerifierConfig holds configuration for the RPC receipt verifier
type RPCVerifierConfig struct {
	// Confirmations is the number of blocks, including the one with the transaction
	Confirmations uint64
	PollInterval  time.Duration
	Timeout       time.Duration
}

// DefaultRPCVerifierConfig returns default configuration
func DefaultRPCVerifierConfig() *RPCVerifierConfig {
	return &RPCVerifierConfig{
		Confirmations: 1,
		PollInterval:  time.Second,
		Timeout:       20 * time.Second,
	}
}

// RPCReceiptVerifier reads the transaction and its receipt from a chain node
type RPCReceiptVerifier struct {
	chain  ChainReader
	config *RPCVerifierConfig
	close  func()
}

// NewRPCReceiptVerifier creates a verifier on top of chain
func NewRPCReceiptVerifier(chain ChainReader, config *RPCVerifierConfig) *RPCReceiptVerifier {
	defaults := DefaultRPCVerifierConfig()
	if config == nil {
		config = defaults
	}
	if config.Confirmations == 0 {
		config.Confirmations = defaults.Confirmations
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &RPCReceiptVerifier{chain: chain, config: config}
}

// DialRPCReceiptVerifier connects to the JSON-RPC endpoint at url
func DialRPCReceiptVerifier(ctx context.Context, url string, config *RPCVerifierConfig) (*RPCReceiptVerifier, error) {
	if url == "" {
		return nil, fmt.Errorf("chain RPC url is required")
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}
	v := NewRPCReceiptVerifier(client, config)
	v.close = client.Close
	return v, nil
}

// Close releases the RPC connection
func (v *RPCReceiptVerifier) Close() {
	if v.close != nil {
		v.close()
	}
}

// VerifyTransfer waits for the receipt, then checks status, recipient, value and chain
func (v *RPCReceiptVerifier) VerifyTransfer(ctx context.Context, t *Transfer) error {
	if t == nil || !IsValidTxHash(t.TxHash) {
		return fmt.Errorf("%w: malformed transaction hash", domain.ErrPaymentUnverified)
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()
	hash := common.HexToHash(t.TxHash)

	receipt, err := v.awaitReceipt(ctx, hash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", domain.ErrPaymentUnverified, t.TxHash)
	}

	tx, _, err := v.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPaymentNetworkError, err)
	}
	if tx.To() == nil || *tx.To() != common.HexToAddress(t.Recipient) {
		return fmt.Errorf("%w: transaction %s paid a different recipient", domain.ErrPaymentUnverified, t.TxHash)
	}
	if t.AmountWei != nil && tx.Value().Cmp(t.AmountWei) < 0 {
		return fmt.Errorf("%w: transaction value %s below amount due %s", domain.ErrPaymentUnverified, tx.Value(), t.AmountWei)
	}
	// pre-EIP-155 transactions carry no chain id
	if chainID := tx.ChainId(); t.ChainID != 0 && chainID != nil && chainID.Sign() != 0 && chainID.Cmp(big.NewInt(t.ChainID)) != 0 {
		return fmt.Errorf("%w: transaction sent on chain %s, want %d", domain.ErrPaymentUnverified, chainID, t.ChainID)
	}
	return nil
}

func (v *RPCReceiptVerifier) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(v.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := v.chain.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			ok, err := v.confirmed(ctx, receipt)
			if err != nil {
				return nil, err
			}
			if ok {
				return receipt, nil
			}
		case !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: transaction %s not confirmed in time", domain.ErrPaymentNetworkError, hash.Hex())
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrPaymentNetworkError, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s not confirmed in time", domain.ErrPaymentNetworkError, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (v *RPCReceiptVerifier) confirmed(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if v.config.Confirmations <= 1 || receipt.BlockNumber == nil {
		return true, nil
	}
	head, err := v.chain.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrPaymentNetworkError, err)
	}
	return head+1 >= receipt.BlockNumber.Uint64()+v.config.Confirmations, nil
}
