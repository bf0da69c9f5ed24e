// Package requestctx provides request-scoped values (e.g. request_id) set by middleware.
package requestctx

import "context"

// Each key gets its own type: distinct types guarantee distinct keys even
// though both are zero-size.
type requestIDKey struct{}
type channelKey struct{}

// SetRequestID stores the request_id in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request_id from context, or "" if not set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// SetChannel stores the inbound channel name (web, whatsapp, provider) in the context.
func SetChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// Channel returns the inbound channel from context, or "" if not set.
func Channel(ctx context.Context) string {
	v, _ := ctx.Value(channelKey{}).(string)
	return v
}
