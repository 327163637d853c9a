package k17

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client represents a connection to a FiiO K17.
//
// A Client is safe for concurrent use. Requests are serialized: while one
// command waits for its reply, other callers block.
type Client struct {
	addr string
	cfg  *clientConfig

	// lifecycleMu serializes Connect and Disconnect. The read loop never
	// takes it.
	lifecycleMu sync.Mutex
	mu          sync.Mutex
	sess        *session

	cmdMu     sync.Mutex
	pendingMu sync.Mutex
	pending   *exchange

	stateMu  sync.RWMutex
	settings Settings

	handlerMu    sync.RWMutex
	onVolume     func(int)
	onDisconnect func()
}

// session is one live connection and the read loop that owns its reads.
type session struct {
	id       string
	conn     net.Conn
	logger   *slog.Logger
	closing  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// exchange is the pending-request slot: up to want inbound messages belong
// to it. It is resolved, and the slot released, by the first message that
// satisfies accept (any message when accept is nil). replies has room for
// every message plus one failure, so the read loop never blocks on it.
type exchange struct {
	replies chan reply
	want    int
	accept  func(msg string) bool
}

type reply struct {
	msg string
	err error
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.closing) })
}

func (s *session) stopping() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// NewClient creates a client for the device at host. No connection is made
// until Connect is called.
func NewClient(host string, opts ...ClientOption) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidArgument)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	if cfg.dial == nil {
		var d net.Dialer
		cfg.dial = d.DialContext
	}

	return &Client{
		addr:         net.JoinHostPort(host, strconv.Itoa(cfg.port)),
		cfg:          cfg,
		settings:     Settings{},
		onVolume:     cfg.onVolume,
		onDisconnect: cfg.onDisconnect,
	}, nil
}

// Connect opens the connection, performs the INIT and GET_SETTINGS
// handshake and starts the read loop. It returns the initial settings.
//
// The context bounds the dial; if it has no deadline the connect timeout is
// applied. Each handshake reply is bounded by the request timeout.
func (c *Client) Connect(ctx context.Context) (Settings, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.Connected() {
		return nil, ErrAlreadyConnected
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.connectTimeout)
		defer cancel()
	}

	conn, err := c.cfg.dial(dialCtx, "tcp", c.addr)
	if err != nil {
		if c.cfg.logger != nil {
			c.cfg.logger.Error("failed to connect", "addr", c.addr, "error", err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.addr, classifyIOError(err))
	}

	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.cfg.logger != nil {
		s.logger = c.cfg.logger.With("session", s.id, "addr", c.addr)
		s.logger.Debug("connected to device")
	}

	settings, ok, err := c.handshake(ctx, s)
	if err != nil {
		_ = conn.Close()
		if s.logger != nil {
			s.logger.Error("handshake failed", "error", err)
		}
		return nil, err
	}
	if ok {
		c.replaceSettings(settings)
	}

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go c.readLoop(s)

	if s.logger != nil {
		s.logger.Info("session established", "volume", c.Volume())
	}
	return c.Settings(), nil
}

// handshake runs the two fixed exchanges. It reads the socket directly, so
// it must finish before the read loop starts.
func (c *Client) handshake(ctx context.Context, s *session) (Settings, bool, error) {
	if _, err := c.handshakeStep(ctx, s, CmdInit); err != nil {
		return nil, false, fmt.Errorf("%w: init: %w", ErrConnectionFailed, err)
	}

	resp, err := c.handshakeStep(ctx, s, CmdGetSettings)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get settings: %w", ErrConnectionFailed, err)
	}

	settings, ok, err := ParseSettings(resp)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return settings, ok, nil
}

func (c *Client) handshakeStep(ctx context.Context, s *session, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classifyIOError(err)
	}

	if err := s.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return "", err
	}
	defer s.conn.SetDeadline(time.Time{})

	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("send %s: %w", cmd, classifyIOError(err))
	}
	if s.logger != nil {
		s.logger.Debug("handshake command sent", "cmd", cmd)
	}

	buf := make([]byte, maxReadSize)
	n, err := s.conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return "", fmt.Errorf("read reply to %s: %w", cmd, classifyIOError(err))
	}
	return decodeASCII(buf[:n]), nil
}

// Disconnect stops the read loop and closes the connection. A request
// waiting for a reply fails with ErrNotConnected. Calling Disconnect on a
// disconnected client does nothing. The disconnect handler is not called.
func (c *Client) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	s.stop()
	err := s.conn.Close()
	<-s.done
	c.failPending(fmt.Errorf("%w: client disconnected", ErrNotConnected))

	if s.logger != nil {
		s.logger.Debug("connection closed")
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// Close is Disconnect; it lets a Client be used as an io.Closer.
func (c *Client) Close() error {
	return c.Disconnect()
}

// readLoop is the only reader of the socket once the handshake is done.
func (c *Client) readLoop(s *session) {
	defer close(s.done)

	buf := make([]byte, maxReadSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			c.dispatch(s, decodeASCII(buf[:n]))
		}
		if err == nil && n > 0 {
			continue
		}

		if s.stopping() {
			c.failPending(fmt.Errorf("%w: client disconnected", ErrNotConnected))
			return
		}

		var cause error
		if err == nil || errors.Is(err, io.EOF) {
			cause = ErrRemoteClosed
		} else {
			cause = fmt.Errorf("%w: %w", ErrRemoteClosed, err)
		}
		c.connectionLost(s, cause)
		return
	}
}

// dispatch hands msg to the outstanding exchange, if any. Otherwise msg is
// a push notification.
func (c *Client) dispatch(s *session, msg string) {
	c.pendingMu.Lock()
	ex := c.pending
	if ex != nil {
		ex.want--
		if ex.want <= 0 || ex.accept == nil || ex.accept(msg) {
			c.pending = nil
		}
	}
	c.pendingMu.Unlock()

	if ex != nil {
		if s.logger != nil {
			s.logger.Debug("reply received", "msg", msg)
		}
		ex.replies <- reply{msg: msg}
		return
	}

	c.handlePush(s, msg)
}

func (c *Client) handlePush(s *session, msg string) {
	if !IsVolumeMessage(msg) {
		if s.logger != nil {
			s.logger.Debug("ignoring unsolicited message", "msg", msg)
		}
		return
	}

	volume, err := ParseVolume(msg)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("ignoring volume push", "msg", msg, "error", err)
		}
		return
	}

	c.storeVolume(volume)
	if s.logger != nil {
		s.logger.Debug("volume changed on device", "volume", volume)
	}

	if s.stopping() {
		return
	}
	if fn := c.volumeHandler(); fn != nil {
		fn(volume)
	}
}

// connectionLost tears down s after an unplanned read failure. The
// disconnect handler fires only if s was still the current session, so a
// concurrent Disconnect suppresses it.
func (c *Client) connectionLost(s *session, cause error) {
	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
	}
	c.mu.Unlock()

	_ = s.conn.Close()
	c.failPending(cause)

	if !current {
		return
	}
	if s.logger != nil {
		s.logger.Warn("connection lost", "error", cause)
	}
	if fn := c.disconnectHandler(); fn != nil {
		fn()
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	ex := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if ex != nil {
		ex.replies <- reply{err: err}
	}
}

// openExchange claims the pending slot for the next want messages, or until
// one satisfies accept. The caller must hold cmdMu.
func (c *Client) openExchange(want int, accept func(string) bool) *exchange {
	ex := &exchange{replies: make(chan reply, want+1), want: want, accept: accept}
	c.pendingMu.Lock()
	c.pending = ex
	c.pendingMu.Unlock()
	return ex
}

func (c *Client) closeExchange(ex *exchange) {
	c.pendingMu.Lock()
	if c.pending == ex {
		c.pending = nil
	}
	c.pendingMu.Unlock()
}

// roundTrip sends cmd and waits for the next inbound message. The caller
// must hold cmdMu.
func (c *Client) roundTrip(ctx context.Context, cmd string) (string, error) {
	s := c.session()
	if s == nil {
		return "", ErrNotConnected
	}

	ex := c.openExchange(1, nil)
	defer c.closeExchange(ex)

	if err := c.send(ctx, s, cmd); err != nil {
		return "", err
	}
	return c.await(ctx, s, ex, cmd)
}

// await waits for the next message delivered to ex. Without a context
// deadline the wait is bounded by the request timeout.
func (c *Client) await(ctx context.Context, s *session, ex *exchange, cmd string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.requestTimeout)
		defer cancel()
	}

	select {
	case r := <-ex.replies:
		return r.msg, r.err
	case <-s.done:
		select {
		case r := <-ex.replies:
			return r.msg, r.err
		default:
		}
		return "", fmt.Errorf("%w: session ended", ErrNotConnected)
	case <-ctx.Done():
		if s.logger != nil {
			s.logger.Warn("timeout waiting for response", "cmd", cmd)
		}
		return "", classifyIOError(ctx.Err())
	}
}

func (c *Client) send(ctx context.Context, s *session, cmd string) error {
	if err := s.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return classifyIOError(err)
	}
	defer s.conn.SetWriteDeadline(time.Time{})

	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to send command", "cmd", cmd, "error", err)
		}
		return fmt.Errorf("send %s: %w", cmd, classifyIOError(err))
	}
	if s.logger != nil {
		s.logger.Debug("command sent", "cmd", cmd)
	}
	return nil
}

// GetSettings requests the device settings and refreshes the cached
// snapshot. A reply without a JSON object leaves the cache unchanged.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	c.cmdMu.Lock()
	resp, err := c.roundTrip(ctx, CmdGetSettings)
	c.cmdMu.Unlock()
	if err != nil {
		return nil, err
	}

	settings, ok, err := ParseSettings(resp)
	if err != nil {
		return nil, err
	}
	if ok {
		c.replaceSettings(settings)
	}
	return c.Settings(), nil
}

// GetVolume refreshes the settings and returns the current volume.
func (c *Client) GetVolume(ctx context.Context) (int, error) {
	settings, err := c.GetSettings(ctx)
	if err != nil {
		return 0, err
	}
	return settings.CurrentVolume(), nil
}

// SetVolume sets the volume to level (0-100). It reports true only when
// the device echoes exactly level back.
//
// The device may send push messages between the command and its
// acknowledgement, so the next five messages are inspected; the command
// itself is sent once. Messages that are not the acknowledgement are
// consumed. Anything after the acknowledgement is a push again. When no acknowledgement turns up SetVolume returns false
// with a nil error.
func (c *Client) SetVolume(ctx context.Context, level int) (bool, error) {
	cmd, err := EncodeSetVolume(level)
	if err != nil {
		return false, err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	s := c.session()
	if s == nil {
		return false, ErrNotConnected
	}

	ex := c.openExchange(volumeAckAttempts, IsVolumeMessage)
	defer c.closeExchange(ex)

	if err := c.send(ctx, s, cmd); err != nil {
		return false, err
	}

	logger := s.logger
	for attempt := 1; attempt <= volumeAckAttempts; attempt++ {
		resp, err := c.await(ctx, s, ex, cmd)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return false, err
		}

		if !IsVolumeMessage(resp) {
			if logger != nil {
				logger.Debug("skipping reply while waiting for volume ack", "attempt", attempt, "msg", resp)
			}
			continue
		}

		echoed, err := ParseVolume(resp)
		if err != nil {
			if logger != nil {
				logger.Warn("volume ack without readable level", "msg", resp)
			}
			return true, nil
		}

		c.storeVolume(echoed)
		if echoed != level && logger != nil {
			logger.Warn("device echoed a different volume", "requested", level, "echoed", echoed)
		}
		return echoed == level, nil
	}

	if logger != nil {
		logger.Warn("timeout waiting for volume acknowledgment", "level", level)
	}
	return false, nil
}

// SetVolumeHandler registers fn to be called with the new level whenever
// the device pushes a volume change. A nil fn clears the handler.
func (c *Client) SetVolumeHandler(fn func(volume int)) {
	c.handlerMu.Lock()
	c.onVolume = fn
	c.handlerMu.Unlock()
}

// SetDisconnectHandler registers fn to be called once when the device
// closes the connection or a read fails. It is not called by Disconnect.
// A nil fn clears the handler.
func (c *Client) SetDisconnectHandler(fn func()) {
	c.handlerMu.Lock()
	c.onDisconnect = fn
	c.handlerMu.Unlock()
}

func (c *Client) volumeHandler() func(int) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.onVolume
}

func (c *Client) disconnectHandler() func() {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.onDisconnect
}

// Connected reports whether a session is live.
func (c *Client) Connected() bool {
	return c.session() != nil
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Volume returns the cached volume without contacting the device.
func (c *Client) Volume() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.settings.CurrentVolume()
}

// Settings returns a copy of the cached settings snapshot.
func (c *Client) Settings() Settings {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.settings.Clone()
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) replaceSettings(s Settings) {
	c.stateMu.Lock()
	c.settings = s
	c.stateMu.Unlock()
}

func (c *Client) storeVolume(v int) {
	c.stateMu.Lock()
	next := c.settings.Clone()
	next[KeyCurrentVolume] = v
	c.settings = next
	c.stateMu.Unlock()
}

// deadline is the earlier of the context deadline and one request timeout
// from now.
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.cfg.requestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// classifyIOError maps socket and context errors onto the package errors.
func classifyIOError(err error) error {
	var netErr net.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrRemoteClosed, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	default:
		return err
	}
}
