package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// IdentityLedger is the on-chain identity registry.
//
// Errors are classified as core.ErrChainUnavailable when the chain could not
// be reached and core.ErrChainRejected when the contract refused the request.
// Only the latter is a verdict about the caller's credentials.
type IdentityLedger interface {
	RegisterOnChain(ctx context.Context, username string, passwordCommitment, socialIDHash [32]byte, provider string) (*core.TxReference, error)
	AuthenticateOnChain(ctx context.Context, username string, passwordCommitment [32]byte) (string, error)
	QueryAuthMethods(ctx context.Context, account string) ([]string, error)
	Identity(ctx context.Context, account string) (*core.ContractIdentity, error)
	IsAvailable(ctx context.Context) bool
}
