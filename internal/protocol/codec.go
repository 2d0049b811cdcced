package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed       = errors.New("malformed message")
	ErrUnsupportedType = errors.New("unsupported message type")
)

// Encode serializes an outbound message. json.RawMessage values pass through as-is.
func Encode(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func decode(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// WithStreamSID returns raw with a top-level "streamSid" field set to sid.
// Every other field is kept byte-for-byte.
func WithStreamSID(raw []byte, sid string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := decode(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	encoded, err := json.Marshal(sid)
	if err != nil {
		return nil, err
	}
	fields["streamSid"] = encoded
	return json.Marshal(fields)
}

// Millis is a media clock value in milliseconds. Twilio sends it as a string.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*m = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid media timestamp %q", s)
		}
		n = int64(f)
	}
	*m = Millis(n)
	return nil
}

func errMissing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}
