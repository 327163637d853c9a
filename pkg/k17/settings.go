package k17

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// KeyCurrentVolume is the settings key holding the volume level.
const KeyCurrentVolume = "currentVolume"

// Settings is the device state reported by GET_SETTINGS, keyed by the
// device's own JSON field names. Numbers are kept as json.Number unless the
// client wrote them itself.
type Settings map[string]any

// CurrentVolume returns the currentVolume field, or 0 when it is missing or
// not a number.
func (s Settings) CurrentVolume() int {
	switch v := s[KeyCurrentVolume].(type) {
	case int:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	}
	return 0
}

// Clone returns a shallow copy of s.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	return maps.Clone(s)
}

// ParseSettings decodes a settings reply. Everything before the first '{'
// is protocol framing and is skipped; bytes after the JSON object are
// ignored. ok is false when the reply holds no '{' at all.
func ParseSettings(reply string) (settings Settings, ok bool, err error) {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return nil, false, nil
	}

	dec := json.NewDecoder(strings.NewReader(reply[start:]))
	dec.UseNumber()
	var out Settings
	if err := dec.Decode(&out); err != nil {
		return nil, false, fmt.Errorf("%w: settings json: %v", ErrMalformedReply, err)
	}
	if out == nil {
		out = Settings{}
	}
	return out, true, nil
}
