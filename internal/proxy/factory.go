// Package proxy negotiates outbound tunnels through SOCKS4, SOCKS5 and
// HTTP CONNECT proxies.
package proxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	netproxy "golang.org/x/net/proxy"

	"github.com/brandon/mailcore/pkg/types"
)

// DefaultTimeout bounds the whole tunnel negotiation
const DefaultTimeout = 30 * time.Second

// DialFunc opens a raw TCP connection
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Factory creates tunneled connections. It holds no per-connection state
// and may be shared.
type Factory struct {
	timeout time.Duration
	dial    DialFunc
	logger  *logrus.Logger
}

// Option configures a Factory
type Option func(*Factory)

// WithTimeout overrides the negotiation timeout
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) { f.timeout = d }
}

// WithDialer overrides how the proxy itself is reached
func WithDialer(dial DialFunc) Option {
	return func(f *Factory) { f.dial = dial }
}

// NewFactory creates a tunnel factory
func NewFactory(logger *logrus.Logger, opts ...Option) *Factory {
	f := &Factory{
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.dial == nil {
		d := &net.Dialer{Timeout: f.timeout, KeepAlive: 30 * time.Second}
		f.dial = d.DialContext
	}
	return f
}

// Create returns a connection to host:port tunneled through desc. When desc
// is disabled it returns (nil, nil) without touching the network and the
// caller is expected to dial directly. A returned connection is fully
// negotiated and ready for the target protocol; it must not be dialed again.
func (f *Factory) Create(ctx context.Context, desc types.ProxyDescriptor, host string, port int) (net.Conn, error) {
	if !desc.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := net.JoinHostPort(host, strconv.Itoa(port))
	log := f.logger.WithFields(logrus.Fields{
		"protocol": desc.Protocol,
		"proxy":    desc.Address(),
		"target":   target,
	})

	var (
		conn net.Conn
		err  error
	)
	switch desc.Protocol {
	case types.ProxySOCKS5:
		conn, err = f.socks5(ctx, desc, target)
	case types.ProxySOCKS4:
		conn, err = f.socks4(ctx, desc, host, port)
	case types.ProxyHTTP, types.ProxyHTTPS:
		conn, err = f.httpConnect(ctx, desc, target)
	default:
		return nil, newError(UnsupportedProtocol, fmt.Errorf("protocol %q", desc.Protocol))
	}
	if err != nil {
		perr := classify(err)
		log.WithError(perr).Warn("Proxy tunnel failed")
		return nil, perr
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, newError(Unreachable, err)
	}

	log.Debug("Proxy tunnel established")
	return conn, nil
}

func (f *Factory) socks5(ctx context.Context, desc types.ProxyDescriptor, target string) (net.Conn, error) {
	var auth *netproxy.Auth
	if desc.HasCredentials() {
		auth = &netproxy.Auth{User: desc.Auth.Username, Password: desc.Auth.Password}
	}

	dialer, err := netproxy.SOCKS5("tcp", desc.Address(), auth, forwardDialer(f.dial))
	if err != nil {
		return nil, err
	}

	cd, ok := dialer.(netproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, classifySOCKS5(err)
	}
	return conn, nil
}

// forwardDialer adapts a DialFunc to the x/net/proxy dialer interfaces
type forwardDialer DialFunc

func (d forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return d(context.Background(), network, addr)
}

func (d forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d(ctx, network, addr)
}

// bindDeadline applies the context deadline to conn and interrupts blocked
// I/O if the context ends early. The returned func detaches the watcher.
func bindDeadline(ctx context.Context, conn net.Conn) func() bool {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	}
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now()) //nolint:errcheck
	})
}
