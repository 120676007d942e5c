package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/brandon/mailcore/pkg/types"
)

const maxResponseHead = 16 << 10

var headTerminator = []byte("\r\n\r\n")

// httpConnect opens an HTTP CONNECT tunnel. For the https protocol the
// connection to the proxy itself is wrapped in TLS first.
func (f *Factory) httpConnect(ctx context.Context, desc types.ProxyDescriptor, target string) (net.Conn, error) {
	conn, err := f.dial(ctx, "tcp", desc.Address())
	if err != nil {
		return nil, err
	}
	stop := bindDeadline(ctx, conn)
	defer stop()

	if desc.Protocol == types.ProxyHTTPS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: desc.Host,
			MinVersion: tls.VersionTLS12,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	if _, err := conn.Write(connectRequest(desc, target)); err != nil {
		conn.Close()
		return nil, err
	}

	head, rest, err := readResponseHead(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	status, err := parseStatusLine(head)
	if err != nil {
		conn.Close()
		return nil, newError(Unreachable, err)
	}
	if status != 200 {
		conn.Close()
		return nil, &Error{Kind: AuthRejected, Status: status, Err: fmt.Errorf("CONNECT %s refused", target)}
	}

	if len(rest) > 0 {
		return &prefixedConn{Conn: conn, r: io.MultiReader(bytes.NewReader(rest), conn)}, nil
	}
	return conn, nil
}

func connectRequest(desc types.ProxyDescriptor, target string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "Host: %s\r\n", target)
	if desc.HasCredentials() {
		token := base64.StdEncoding.EncodeToString([]byte(desc.Auth.Username + ":" + desc.Auth.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", token)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// readResponseHead reads until the blank line ending the response head.
// Anything read past it belongs to the tunnel and is returned as rest.
func readResponseHead(r io.Reader) (head, rest []byte, err error) {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		n, rerr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if i := bytes.Index(buf, headTerminator); i >= 0 {
			return buf[:i], buf[i+len(headTerminator):], nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			return nil, nil, rerr
		}
		if len(buf) > maxResponseHead {
			return nil, nil, errors.New("proxy response head too large")
		}
	}
}

func parseStatusLine(head []byte) (int, error) {
	line, _, _ := strings.Cut(string(head), "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("malformed proxy status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed proxy status code %q", fields[1])
	}
	return code, nil
}

// prefixedConn replays bytes that arrived together with the CONNECT reply
type prefixedConn struct {
	net.Conn
	r io.Reader
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
