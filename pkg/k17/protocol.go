package k17

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Constants defined by the K17 control protocol
const (
	DefaultPort = 12100

	// Commands are sent as ASCII hex text
	CmdInit         = "0599000c0000"
	CmdGetSettings  = "05010008"
	CmdSetVolumePfx = "0502000c"

	// RespVolume prefixes both the SET_VOLUME acknowledgement and the
	// unsolicited push sent when the knob is turned.
	RespVolume = "a502"

	MinVolume = 0
	MaxVolume = 100

	// maxReadSize bounds a single read. The protocol has no length prefix,
	// so one read is one message.
	maxReadSize = 4096

	// volumeAckAttempts is how many replies SetVolume inspects before
	// giving up on the acknowledgement.
	volumeAckAttempts = 5
)

var (
	// ErrConnectionFailed is returned by Connect when the socket could not
	// be opened or the handshake failed.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrNotConnected is returned when a request is made with no live session.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrTimeout is returned when no reply arrives before the deadline.
	ErrTimeout = errors.New("timeout waiting for reply")
	// ErrInvalidArgument is returned for out-of-range volume levels.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRemoteClosed reports that the device closed or reset the connection.
	ErrRemoteClosed = errors.New("connection closed by device")
	// ErrMalformedReply is returned when a settings reply carries JSON that
	// cannot be decoded.
	ErrMalformedReply = errors.New("malformed reply")
)

// EncodeSetVolume builds the SET_VOLUME command for level.
func EncodeSetVolume(level int) (string, error) {
	if level < MinVolume || level > MaxVolume {
		return "", fmt.Errorf("%w: volume %d out of range [%d, %d]", ErrInvalidArgument, level, MinVolume, MaxVolume)
	}
	return fmt.Sprintf("%s%04x", CmdSetVolumePfx, level), nil
}

// IsVolumeMessage reports whether msg is a volume acknowledgement or push.
func IsVolumeMessage(msg string) bool {
	return len(msg) >= len(RespVolume) && strings.EqualFold(msg[:len(RespVolume)], RespVolume)
}

// ParseVolume extracts the volume carried in the trailing 4 hex digits of
// a volume message.
func ParseVolume(msg string) (int, error) {
	if len(msg) < len(RespVolume)+4 {
		return 0, fmt.Errorf("%w: volume message too short: %q", ErrMalformedReply, msg)
	}
	v, err := strconv.ParseUint(msg[len(msg)-4:], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: volume digits %q: %v", ErrMalformedReply, msg[len(msg)-4:], err)
	}
	return int(v), nil
}

// decodeASCII converts a raw payload to text, replacing every byte outside
// the ASCII range with U+FFFD.
func decodeASCII(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c < utf8.RuneSelf {
			b.WriteByte(c)
		} else {
			b.WriteRune(utf8.RuneError)
		}
	}
	return b.String()
}
