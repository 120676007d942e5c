package types

import (
	"net"
	"strconv"
)

// ProxyProtocol names a tunnel protocol
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS4 ProxyProtocol = "socks4"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// ProxyAuth holds optional proxy credentials
type ProxyAuth struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// ProxyDescriptor describes an outbound proxy. Enabled=false never produces a tunnel.
type ProxyDescriptor struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Protocol ProxyProtocol `json:"protocol" mapstructure:"protocol"`
	Host     string        `json:"host" mapstructure:"host"`
	Port     int           `json:"port" mapstructure:"port"`
	Auth     ProxyAuth     `json:"auth" mapstructure:"auth"`
}

// Address returns host:port of the proxy itself
func (p ProxyDescriptor) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials reports whether username/password should be sent
func (p ProxyDescriptor) HasCredentials() bool {
	return p.Auth.Enabled && p.Auth.Username != ""
}

// AccountProxy is a per-account proxy override. It only applies when
// UseIndependent is set; otherwise the process-wide descriptor is used.
type AccountProxy struct {
	UseIndependent  bool `json:"useIndependent" mapstructure:"use_independent"`
	ProxyDescriptor `mapstructure:",squash"`
}
