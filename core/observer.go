package core

import (
	"context"

	"github.com/eth2030/txcore/core/types"
)

// Observer is notified around each transaction run by the VM. BeforeTx
// runs after the transaction checkpoint is taken; a non-nil error aborts
// the transaction and reverts it.
type Observer interface {
	BeforeTx(ctx context.Context, tx *types.Transaction) error
	AfterTx(ctx context.Context, ev *AfterTxEvent)
}

// AfterTxEvent carries a transaction together with its full result.
type AfterTxEvent struct {
	Transaction *types.Transaction
	*RunTxResult
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Before func(ctx context.Context, tx *types.Transaction) error
	After  func(ctx context.Context, ev *AfterTxEvent)
}

func (o ObserverFuncs) BeforeTx(ctx context.Context, tx *types.Transaction) error {
	if o.Before == nil {
		return nil
	}
	return o.Before(ctx, tx)
}

func (o ObserverFuncs) AfterTx(ctx context.Context, ev *AfterTxEvent) {
	if o.After != nil {
		o.After(ctx, ev)
	}
}
