package store

import "context"

// RunInTransaction wraps ctx with the ambient transaction marker and calls
// fn inside the provided TxRunner's transaction
func RunInTransaction(ctx context.Context, tx TxRunner, fn func(ctx context.Context, q RowQuerier) error) error {
	return tx.Tx(ctx, func(q RowQuerier) error {
		return fn(WithTx(ctx, q), q)
	})
}
