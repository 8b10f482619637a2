package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

var supportedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ProxyConfig is a parsed proxy URL.
type ProxyConfig struct {
	URL    *url.URL
	Scheme string
	Host   string
	Port   string
}

// IsSOCKS reports whether the proxy speaks SOCKS5.
func (p *ProxyConfig) IsSOCKS() bool { return p != nil && p.Scheme == "socks5" }

// Address returns host:port.
func (p *ProxyConfig) Address() string {
	if p == nil {
		return ""
	}
	return net.JoinHostPort(p.Host, p.Port)
}

// ParseProxyURL validates a proxy URL. A missing scheme means http and a
// missing port takes the scheme's usual one.
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxy, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !supportedProxySchemes[scheme] {
		return nil, fmt.Errorf("%w: unsupported scheme %q (http, https, socks5)", ErrProxy, scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %s has no host", ErrProxy, redactURL(u))
	}
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "8080"
		case "https":
			port = "8443"
		default:
			port = "1080"
		}
	}
	u.Scheme = scheme
	return &ProxyConfig{URL: u, Scheme: scheme, Host: u.Hostname(), Port: port}, nil
}

// socksDialer tunnels connections through a SOCKS5 proxy. forward dials
// the proxy itself.
func socksDialer(p *ProxyConfig, forward contextDialer) (contextDialer, error) {
	var auth *proxy.Auth
	if p.URL.User != nil {
		pw, _ := p.URL.User.Password()
		auth = &proxy.Auth{User: p.URL.User.Username(), Password: pw}
	}
	d, err := proxy.SOCKS5("tcp", p.Address(), auth, forwardDialer{forward})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxy, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("%w: socks dialer lacks DialContext", ErrProxy)
	}
	return cd, nil
}

// forwardDialer adapts a contextDialer to proxy.Dialer.
type forwardDialer struct{ contextDialer }

func (f forwardDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}
