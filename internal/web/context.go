package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/ProgramUpload/internal/core"
)

// withClient attaches the requesting client to ctx for upload history.
// RemoteAddr has already been rewritten by TrustedRealIP.
func withClient(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return core.WithClient(ctx, core.Client{IP: ip, UserAgent: r.UserAgent()})
}
