package core

import "context"

type contextKey string

const ctxKeyClient contextKey = "upload_client"

// Client identifies who sent a request. It is stored on upload history
// records.
type Client struct {
	IP        string
	UserAgent string
}

// WithClient attaches the request's client to ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, ctxKeyClient, c)
}

// ClientFromContext returns the client attached by WithClient, or the zero
// Client for requests that did not come through HTTP.
func ClientFromContext(ctx context.Context) Client {
	if c, ok := ctx.Value(ctxKeyClient).(Client); ok {
		return c
	}
	return Client{}
}
