package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/passport/core"
)

// classify maps a backend error onto core.ErrChainRejected or
// core.ErrChainUnavailable. A structured JSON-RPC error is the node's answer
// to the request, with or without revert data, and counts as a rejection.
// Transport failures, HTTP status errors and context errors mean the chain
// could not give an answer.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrChainRejected) || errors.Is(err, core.ErrChainUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrChainUnavailable, err)
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return fmt.Errorf("%s: %w: %v", op, core.ErrChainRejected, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrChainRejected, err)
	}

	return fmt.Errorf("%s: %w: %v", op, core.ErrChainUnavailable, err)
}
