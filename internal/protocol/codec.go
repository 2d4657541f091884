// ABOUTME: Line framing and JSON encoding/decoding of envelopes.
// ABOUTME: Malformed lines are reported as ErrInvalidJSON and never end the stream.

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Codec errors
var (
	ErrInvalidJSON    = errors.New("invalid_json")
	ErrInvalidPayload = errors.New("invalid payload")
)

// LineReader splits a byte stream into newline-terminated records.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r. Lines may be arbitrarily long.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next non-blank record without its line terminator.
// Bytes after the last newline at EOF are discarded with the returned error.
func (lr *LineReader) Next() ([]byte, error) {
	for {
		line, err := lr.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// wireEnvelope is the decode shape; Type is a pointer so a missing type is detectable.
type wireEnvelope struct {
	Type    *string         `json:"type"`
	ID      json.RawMessage `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses one record into an Envelope.
func Decode(line []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if w.Type == nil || *w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidJSON)
	}

	payload := bytes.TrimSpace(w.Payload)
	switch {
	case len(payload) == 0 || bytes.Equal(payload, []byte("null")):
		payload = nil
	case payload[0] != '{':
		return nil, fmt.Errorf("%w: payload must be an object", ErrInvalidJSON)
	}

	return &Envelope{
		Type:    MessageType(*w.Type),
		ID:      normalizeID(w.ID),
		Payload: payload,
	}, nil
}

// Encode serializes env as one newline-terminated record.
func Encode(env *Envelope) ([]byte, error) {
	out := *env
	if len(out.Payload) == 0 {
		out.Payload = emptyObject
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Type, err)
	}
	return append(data, '\n'), nil
}
