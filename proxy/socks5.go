package proxy

import (
	"context"
	"fmt"
	"net"

	xproxy "golang.org/x/net/proxy"
)

// dialSOCKS5 tunnels to target through d's SOCKS5 proxy using
// golang.org/x/net/proxy, which already ships a conformant RFC
// 1928/1929 client. The domain name form of target is passed through
// unchanged so DNS resolution happens on the proxy side rather than
// locally.
func dialSOCKS5(ctx context.Context, d Descriptor, network, target string) (net.Conn, error) {
	var auth *xproxy.Auth
	if d.User != "" {
		auth = &xproxy.Auth{User: d.User, Password: d.Pass}
	}

	dialer, err := xproxy.SOCKS5(network, d.addr(), auth, &net.Dialer{})
	if err != nil {
		return nil, fmt.Errorf("failed to construct SOCKS5 dialer for %v: %w", d.addr(), err)
	}

	if cd, ok := dialer.(xproxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, network, target)
		if err != nil {
			return nil, fmt.Errorf("failed to dial SOCKS5 proxy %v: %w", d.addr(), err)
		}
		return conn, nil
	}

	conn, err := dialer.Dial(network, target)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SOCKS5 proxy %v: %w", d.addr(), err)
	}
	return conn, nil
}
