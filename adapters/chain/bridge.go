package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/shopspring/decimal"
)

// Backend is the subset of an Ethereum client the bridge needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config configures the identity registry bridge
type Config struct {
	RPCURL        string
	Contract      string
	PrivateKey    string          // Hex key used to sign registrations, optional
	GasMultiplier decimal.Decimal // Safety margin applied to gas estimates
	ProbeTimeout  time.Duration   // Bound for IsAvailable
	PollInterval  time.Duration   // Receipt polling interval
}

func (c *Config) setDefaults() {
	if c.GasMultiplier.IsZero() {
		c.GasMultiplier = decimal.RequireFromString("1.2")
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Bridge talks to the on-chain identity registry
type Bridge struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	cfg      Config
	logger   watermill.LoggerAdapter
}

// Dial connects to the configured RPC endpoint
func Dial(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Bridge, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain: %w", err)
	}
	return NewBridge(client, cfg, logger)
}

// NewBridge creates a bridge over an existing backend
func NewBridge(backend Backend, cfg Config, logger watermill.LoggerAdapter) (*Bridge, error) {
	cfg.setDefaults()

	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}

	parsed, err := abi.JSON(strings.NewReader(IdentityRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}

	b := &Bridge{
		backend:  backend,
		contract: common.HexToAddress(cfg.Contract),
		abi:      parsed,
		cfg:      cfg,
		logger:   logger.With(watermill.LogFields{"component": "chain"}),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
		b.key = key
		b.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return b, nil
}

var _ ports.IdentityLedger = (*Bridge)(nil)

// RegisterOnChain submits a registration and waits for its receipt. The wait
// is bounded only by ctx; a transaction already broadcast is not rolled back
// when the caller gives up.
func (b *Bridge) RegisterOnChain(ctx context.Context, username string, passwordCommitment, socialIDHash [32]byte, provider string) (*core.TxReference, error) {
	if b.key == nil {
		return nil, fmt.Errorf("register: no signing key configured: %w", core.ErrFeatureUnavailable)
	}

	data, err := b.abi.Pack(methodRegister, username, passwordCommitment, socialIDHash, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to pack registration: %w", err)
	}

	msg := ethereum.CallMsg{From: b.from, To: &b.contract, Data: data}
	estimate, err := b.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify("estimate gas", err)
	}
	gasLimit := b.inflateGas(estimate)

	gasPrice, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("gas price", err)
	}

	nonce, err := b.backend.PendingNonceAt(ctx, b.from)
	if err != nil {
		return nil, classify("nonce", err)
	}

	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return nil, classify("chain id", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign registration: %w", err)
	}

	if err := b.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify("send transaction", err)
	}

	b.logger.Debug("Registration submitted", watermill.LogFields{
		"username": username,
		"tx":       signed.Hash().Hex(),
		"gas":      gasLimit,
	})

	receipt, err := b.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}

	ref := &core.TxReference{
		Hash:    signed.Hash().Hex(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		ref.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return ref, fmt.Errorf("registration reverted in tx %s: %w", ref.Hash, core.ErrChainRejected)
	}

	return ref, nil
}

// AuthenticateOnChain resolves the account bound to username when the
// commitment matches. A zero account is a rejection.
func (b *Bridge) AuthenticateOnChain(ctx context.Context, username string, passwordCommitment [32]byte) (string, error) {
	out, err := b.call(ctx, methodAuthenticate, username, passwordCommitment)
	if err != nil {
		return "", err
	}

	account, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("authenticate: unexpected output type %T: %w", out[0], core.ErrChainUnavailable)
	}
	if account == (common.Address{}) {
		return "", fmt.Errorf("authenticate: %w", core.ErrChainRejected)
	}

	return account.Hex(), nil
}

// QueryAuthMethods lists the authentication methods linked to an account
func (b *Bridge) QueryAuthMethods(ctx context.Context, account string) ([]string, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account %q: %w", account, core.ErrInvalidInput)
	}

	out, err := b.call(ctx, methodGetAuthMethods, common.HexToAddress(account))
	if err != nil {
		return nil, err
	}

	methods, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("auth methods: unexpected output type %T: %w", out[0], core.ErrChainUnavailable)
	}
	return methods, nil
}

// Identity reads the registry record of an account together with its methods
func (b *Bridge) Identity(ctx context.Context, account string) (*core.ContractIdentity, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account %q: %w", account, core.ErrInvalidInput)
	}

	out, err := b.call(ctx, methodGetIdentity, common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("identity: unexpected output length %d: %w", len(out), core.ErrChainUnavailable)
	}

	username, _ := out[0].(string)
	bound, _ := out[1].(common.Address)
	verified, _ := out[2].(bool)
	locked, _ := out[3].(bool)
	if bound == (common.Address{}) {
		return nil, fmt.Errorf("identity: %w", core.ErrChainRejected)
	}

	methods, err := b.QueryAuthMethods(ctx, account)
	if err != nil {
		return nil, err
	}

	return &core.ContractIdentity{
		Username:    username,
		Account:     bound.Hex(),
		Verified:    verified,
		Locked:      locked,
		AuthMethods: methods,
	}, nil
}

// IsAvailable probes the node with a bounded block number request
func (b *Bridge) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	if _, err := b.backend.BlockNumber(ctx); err != nil {
		b.logger.Debug("Chain probe failed", watermill.LogFields{"error": err.Error()})
		return false
	}
	return true
}

func (b *Bridge) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	output, err := b.backend.CallContract(ctx, ethereum.CallMsg{From: b.from, To: &b.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}

	out, err := b.abi.Unpack(method, output)
	if err != nil {
		// Empty output means no contract code answered at the address
		return nil, fmt.Errorf("%s: failed to unpack output: %w: %v", method, core.ErrChainUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output: %w", method, core.ErrChainUnavailable)
	}
	return out, nil
}

func (b *Bridge) inflateGas(estimate uint64) uint64 {
	inflated := decimal.NewFromBigInt(new(big.Int).SetUint64(estimate), 0).
		Mul(b.cfg.GasMultiplier).
		Ceil()
	return inflated.BigInt().Uint64()
}

func (b *Bridge) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, classify("receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for tx %s: %w: %v", hash.Hex(), core.ErrChainUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}
