package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/brandon/mailcore/pkg/types"
)

// SOCKS4 wire constants
const (
	socks4Version       = 0x04
	socks4Connect       = 0x01
	socks4ReplyVersion  = 0x00
	socks4Granted       = 0x5a
	socks4Rejected      = 0x5b
	socks4NoIdentd      = 0x5c
	socks4IdentMismatch = 0x5d
)

// socks4 negotiates a SOCKS4 CONNECT, falling back to SOCKS4a when the
// target is a hostname. SOCKS4 has no password; the username travels as
// the user id.
func (f *Factory) socks4(ctx context.Context, desc types.ProxyDescriptor, host string, port int) (net.Conn, error) {
	req, err := socks4Request(host, port, socks4UserID(desc))
	if err != nil {
		return nil, newError(Unreachable, err)
	}

	conn, err := f.dial(ctx, "tcp", desc.Address())
	if err != nil {
		return nil, err
	}
	stop := bindDeadline(ctx, conn)
	defer stop()

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, err
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, err
	}
	if reply[0] != socks4ReplyVersion {
		conn.Close()
		return nil, newError(Unreachable, fmt.Errorf("socks4: malformed reply version %#x", reply[0]))
	}
	if reply[1] != socks4Granted {
		conn.Close()
		return nil, &Error{Kind: AuthRejected, Status: int(reply[1]), Err: errors.New(socks4ReplyText(reply[1]))}
	}
	return conn, nil
}

func socks4UserID(desc types.ProxyDescriptor) string {
	if desc.HasCredentials() {
		return desc.Auth.Username
	}
	return ""
}

func socks4Request(host string, port int, userID string) ([]byte, error) {
	if port < 1 || port > 0xffff {
		return nil, fmt.Errorf("socks4: invalid port %d", port)
	}

	req := []byte{socks4Version, socks4Connect, byte(port >> 8), byte(port)}

	ip := net.ParseIP(host)
	switch {
	case ip != nil && ip.To4() != nil:
		req = append(req, ip.To4()...)
		req = append(req, userID...)
		req = append(req, 0)
	case ip != nil:
		return nil, fmt.Errorf("socks4: cannot address IPv6 target %s", host)
	default:
		// SOCKS4a: 0.0.0.x marks a hostname following the user id
		req = append(req, 0, 0, 0, 1)
		req = append(req, userID...)
		req = append(req, 0)
		req = append(req, host...)
		req = append(req, 0)
	}
	return req, nil
}

func socks4ReplyText(code byte) string {
	switch code {
	case socks4Rejected:
		return "socks4: request rejected or failed"
	case socks4NoIdentd:
		return "socks4: identd unreachable"
	case socks4IdentMismatch:
		return "socks4: identd user mismatch"
	default:
		return fmt.Sprintf("socks4: reply %#x", code)
	}
}

// classifySOCKS5 maps x/net/proxy errors, which only carry text, onto kinds
func classifySOCKS5(err error) error {
	if isTimeout(err) {
		return newError(Timeout, err)
	}
	if strings.Contains(err.Error(), "authentication") {
		return newError(AuthRejected, err)
	}
	return newError(Unreachable, err)
}
