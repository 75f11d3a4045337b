package websocket

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftsock/wsclient/proxy"
)

// ProxyConfig is the YAML representation of a proxy.Descriptor.
type ProxyConfig struct {
	// Kind is one of "none" (default), "http_connect", or "socks5".
	Kind string `yaml:"kind"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

func (pc ProxyConfig) descriptor() (proxy.Descriptor, error) {
	switch pc.Kind {
	case "", "none":
		return proxy.None(), nil
	case "http_connect":
		return proxy.HTTPConnect(pc.Host, pc.Port), nil
	case "socks5":
		return proxy.SOCKS5(pc.Host, pc.Port, pc.User, pc.Pass), nil
	default:
		return proxy.Descriptor{}, fmt.Errorf("unknown proxy kind %q", pc.Kind)
	}
}

// Config is the YAML-serializable form of the dial options a client
// process typically loads as part of its own startup configuration,
// rather than constructing Options by hand.
type Config struct {
	Host         string            `yaml:"host"`
	Subprotocols []string          `yaml:"subprotocols"`
	ExtraHeaders map[string]string `yaml:"extra_headers"`

	MaxFrameSize   int64         `yaml:"max_frame_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AutoPong       *bool         `yaml:"auto_pong"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`

	// TLSRootPaths lists PEM files to load into Options.TLSRoots.
	// An empty list uses the host's root CA set.
	TLSRootPaths []string `yaml:"tls_roots"`

	Proxy ProxyConfig `yaml:"proxy"`
}

// LoadConfig reads and parses a Config from a YAML document at path.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return &c, nil
}

// Options converts c into the Options the dialer consumes.
func (c *Config) Options() (*Options, error) {
	opts := &Options{
		MaxFrameSize:   c.MaxFrameSize,
		MaxMessageSize: c.MaxMessageSize,
		CloseTimeout:   c.CloseTimeout,
		PingInterval:   c.PingInterval,
	}

	opts.DisableAutoPong = c.AutoPong != nil && !*c.AutoPong

	descriptor, err := c.Proxy.descriptor()
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy descriptor: %w", err)
	}
	opts.Proxy = descriptor

	if len(c.TLSRootPaths) > 0 {
		pool := x509.NewCertPool()
		for _, p := range c.TLSRootPaths {
			pem, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("failed to read TLS root %q: %w", p, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("failed to parse TLS root %q: no certificates found", p)
			}
		}
		opts.TLSRoots = pool
	}

	return opts, nil
}

// DialOptions converts c into a full DialOptions, including the
// subprotocols, extra headers and host override that Options itself
// has no room for.
func (c *Config) DialOptions() (*DialOptions, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	for k, v := range c.ExtraHeaders {
		h.Set(k, v)
	}

	return &DialOptions{
		HTTPHeader:   h,
		Host:         c.Host,
		Subprotocols: c.Subprotocols,
		Options:      opts,
	}, nil
}
