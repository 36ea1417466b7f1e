package gateway

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sameehj/execbridge/pkg/mcp"
)

// Authorizer controls incoming gateway connections. The HTTP transport
// accepts the same type.
type Authorizer = mcp.Authorizer

type NoopAuthorizer struct{}

func (NoopAuthorizer) Allow(context.Context, string) error {
	return nil
}

// AllowlistAuthorizer admits remote addresses that equal an entry, whose
// host equals an entry, or whose IP lies in an entry written in CIDR form.
// An empty list admits everyone.
type AllowlistAuthorizer struct {
	Allowed []string
}

func (a AllowlistAuthorizer) Allow(_ context.Context, remoteAddr string) error {
	if len(a.Allowed) == 0 {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	for _, entry := range a.Allowed {
		entry = strings.TrimSpace(entry)
		if entry == remoteAddr || entry == host {
			return nil
		}
		if _, network, err := net.ParseCIDR(entry); err == nil && ip != nil && network.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("remote address not allowed: %s", remoteAddr)
}
