package proxy

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/brandon/mailcore/pkg/types"
)

// Settings holds the process-wide proxy descriptor. It is read only when a
// connection is created; replacing it does not touch open connections.
type Settings struct {
	current atomic.Pointer[types.ProxyDescriptor]
}

// NewSettings creates settings seeded with initial
func NewSettings(initial types.ProxyDescriptor) *Settings {
	s := &Settings{}
	s.Store(initial)
	return s
}

// Load returns a copy of the current descriptor
func (s *Settings) Load() types.ProxyDescriptor {
	if d := s.current.Load(); d != nil {
		return *d
	}
	return types.ProxyDescriptor{}
}

// Store atomically replaces the descriptor
func (s *Settings) Store(d types.ProxyDescriptor) {
	s.current.Store(&d)
}

// Effective resolves the descriptor for an account
func (s *Settings) Effective(override *types.AccountProxy) types.ProxyDescriptor {
	if override != nil && override.UseIndependent {
		return override.ProxyDescriptor
	}
	return s.Load()
}

// HTTPClient returns a client whose connections are tunneled through desc.
// A disabled descriptor yields a client that dials directly.
func (f *Factory) HTTPClient(desc types.ProxyDescriptor) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if desc.Enabled {
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, err
			}
			return f.Create(ctx, desc, host, port)
		}
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}
