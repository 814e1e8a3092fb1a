package store

import "context"

type (
	txKey    struct{}
	reqIDKey struct{}
)

// WithTx attaches the ambient transactional RowQuerier to the context for
// the duration of a guarded RunInTransaction call, so handlers nested
// inside it can discover it without it being threaded explicitly
func WithTx(ctx context.Context, q RowQuerier) context.Context {
	return context.WithValue(ctx, txKey{}, q)
}

// CurrentTx returns the ambient transaction on the context, if any
func CurrentTx(ctx context.Context) (RowQuerier, bool) {
	v := ctx.Value(txKey{})
	if v == nil {
		return nil, false
	}
	q, ok := v.(RowQuerier)
	return q, ok
}

// WithRequestID attaches a request id to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reqIDKey{}, id)
}

// RequestID retrieves a request id from context if present
func RequestID(ctx context.Context) (string, bool) {
	v := ctx.Value(reqIDKey{})
	if v == nil {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}
