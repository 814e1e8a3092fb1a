// Package net provides utilities for working with request contexts
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey is an unexported key type for context values
type ctxKey string

const (
	keyQueueName ctxKey = "queue_name"
)

// WithRequest annotates context with common request scoped ids
func WithRequest(ctx context.Context, reqID, queueName string) context.Context {
	if reqID != "" {
		// set chi RequestID so chimw.GetReqID can retrieve it
		ctx = context.WithValue(ctx, chimw.RequestIDKey, reqID)
	}
	if queueName != "" {
		ctx = context.WithValue(ctx, keyQueueName, queueName)
	}
	return ctx
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string {
	if v := chimw.GetReqID(ctx); v != "" {
		return v
	}
	return ""
}

// QueueName returns the queue name on the context if present
func QueueName(ctx context.Context) string {
	if v, ok := ctx.Value(keyQueueName).(string); ok {
		return v
	}
	return ""
}
