package main

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zberg/go-k17/pkg/k17"
)

const emulatorSettings = `{"currentVolume":42,"gain":"high","firmware":"1.2.0"}`

// emulator is a TCP stand-in for the device. It answers the handshake and
// echoes SET_VOLUME. onReady, if set, runs in its own goroutine once the
// handshake of the n-th connection (starting at 0) has been answered.
type emulator struct {
	ln       net.Listener
	settings string
	onReady  func(n int, conn net.Conn)

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func newEmulator(t *testing.T) *emulator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	e := &emulator{ln: ln, settings: emulatorSettings}
	t.Cleanup(func() {
		ln.Close()
		e.closeConns()
		e.wg.Wait()
	})
	return e
}

func (e *emulator) start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			conn, err := e.ln.Accept()
			if err != nil {
				return
			}
			e.mu.Lock()
			n := len(e.conns)
			e.conns = append(e.conns, conn)
			e.mu.Unlock()

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.serve(n, conn)
			}()
		}
	}()
}

// stop closes the listener so later dials are refused.
func (e *emulator) stop() {
	e.ln.Close()
}

func (e *emulator) closeConns() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		c.Close()
	}
}

func (e *emulator) host() string {
	return e.ln.Addr().(*net.TCPAddr).IP.String()
}

func (e *emulator) port() int {
	return e.ln.Addr().(*net.TCPAddr).Port
}

func (e *emulator) serve(n int, conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	for {
		nr, err := conn.Read(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:nr])

		var reply string
		switch {
		case cmd == k17.CmdInit:
			reply = "a599000c0000"
		case cmd == k17.CmdGetSettings:
			reply = "a501009c" + e.settings
		case strings.HasPrefix(cmd, k17.CmdSetVolumePfx):
			reply = "a502000c" + cmd[len(cmd)-4:]
		default:
			continue
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}

		if cmd == k17.CmdGetSettings && e.onReady != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.onReady(n, conn)
			}()
		}
	}
}

// syncBuffer is written by the client's read pump and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
