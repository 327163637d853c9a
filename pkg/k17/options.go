package k17

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// DialFunc opens the network connection to the device.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

// clientConfig holds the configuration for a Client.
type clientConfig struct {
	port           int
	connectTimeout time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	dial           DialFunc
	onVolume       func(int)
	onDisconnect   func()
}

// defaultConfig returns the default client configuration.
func defaultConfig() *clientConfig {
	return &clientConfig{
		port:           DefaultPort,
		connectTimeout: 5 * time.Second,
		requestTimeout: 5 * time.Second,
		logger:         nil,
		dial:           nil,
	}
}

// WithPort sets the TCP port to connect to.
// Default is 12100.
func WithPort(port int) ClientOption {
	return func(c *clientConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		c.port = port
		return nil
	}
}

// WithConnectTimeout sets the timeout for establishing a connection.
// It only applies when the context passed to Connect has no deadline.
// Default is 5 seconds.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("connect timeout must be positive")
		}
		c.connectTimeout = d
		return nil
	}
}

// WithRequestTimeout sets how long to wait for each reply, including the
// two handshake replies. Default is 5 seconds.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}

// WithDialer replaces the function used to open the TCP connection.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *clientConfig) error {
		if dial == nil {
			return errors.New("dialer must not be nil")
		}
		c.dial = dial
		return nil
	}
}

// WithVolumeHandler registers the handler for volume push notifications.
// See Client.SetVolumeHandler.
func WithVolumeHandler(fn func(volume int)) ClientOption {
	return func(c *clientConfig) error {
		c.onVolume = fn
		return nil
	}
}

// WithDisconnectHandler registers the handler for unplanned connection loss.
// See Client.SetDisconnectHandler.
func WithDisconnectHandler(fn func()) ClientOption {
	return func(c *clientConfig) error {
		c.onDisconnect = fn
		return nil
	}
}
