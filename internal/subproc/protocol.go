// Package subproc isolates crash-prone pipeline stages (primarily screen
// capture) in separate OS processes, supervised over a framed JSON protocol
// on the child's standard streams.
//
// The wire protocol is a six-message handshake-and-work scheme: the parent
// sends "init" with stage configuration, the child answers "ready", then
// "process"/"result" (or "error") pairs carry work until the parent sends
// "shutdown". Frames are either length-prefixed or newline-delimited JSON;
// both sides must agree on the framing. A message without a type is a
// protocol violation and takes the restart path.
//
// [Supervisor] owns the parent side: spawning, the init handshake, request
// routing, stderr bridging, and the restart circuit breaker. [Serve] is the
// child side's message loop.
package subproc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Message types, in handshake order.
const (
	TypeInit     = "init"
	TypeReady    = "ready"
	TypeProcess  = "process"
	TypeResult   = "result"
	TypeError    = "error"
	TypeShutdown = "shutdown"
)

// ErrProtocol marks a framing or message-shape violation. The supervisor
// treats any error wrapping it as grounds for a restart.
var ErrProtocol = errors.New("subproc: protocol violation")

// MaxFrameSize bounds a single message frame. Capture frames dominate; a
// 4K RGBA region encodes well under this.
const MaxFrameSize = 64 << 20

// Message is one protocol frame. Exactly one of Config, Data, or Error is
// populated depending on Type.
type Message struct {
	// Type is one of the Type* constants. Required.
	Type string `json:"type"`

	// ID correlates a process request with its result or error.
	ID string `json:"id,omitempty"`

	// Config carries stage configuration on init.
	Config json.RawMessage `json:"config,omitempty"`

	// Data carries the request payload on process and the response payload
	// on result.
	Data json.RawMessage `json:"data,omitempty"`

	// Error is the child-reported failure text on error messages.
	Error string `json:"error,omitempty"`
}

// Framing selects how messages are delimited on the wire.
type Framing string

const (
	// FramingLength prefixes each JSON payload with a 4-byte big-endian
	// length. The default.
	FramingLength Framing = "length"

	// FramingNewline delimits compact JSON payloads with '\n'.
	FramingNewline Framing = "newline"
)

// IsValid reports whether f is a known framing.
func (f Framing) IsValid() bool {
	return f == FramingLength || f == FramingNewline
}

// Codec reads and writes framed messages over a byte stream. Not safe for
// concurrent use; the supervisor serializes access.
type Codec struct {
	framing Framing
	r       *bufio.Reader
	w       io.Writer
}

// NewCodec creates a codec over r and w. An unknown framing falls back to
// [FramingLength].
func NewCodec(r io.Reader, w io.Writer, framing Framing) *Codec {
	if !framing.IsValid() {
		framing = FramingLength
	}
	return &Codec{framing: framing, r: bufio.NewReader(r), w: w}
}

// Write frames and sends msg.
func (c *Codec) Write(msg Message) error {
	if msg.Type == "" {
		return fmt.Errorf("%w: refusing to send message without type", ErrProtocol)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("subproc: encode message: %w", err)
	}

	switch c.framing {
	case FramingNewline:
		payload = append(payload, '\n')
		_, err = c.w.Write(payload)
	default:
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		if _, err = c.w.Write(prefix[:]); err == nil {
			_, err = c.w.Write(payload)
		}
	}
	if err != nil {
		return fmt.Errorf("subproc: write frame: %w", err)
	}
	return nil
}

// Read blocks for the next message. A malformed frame or a message without a
// type returns an error wrapping [ErrProtocol]; io.EOF passes through so
// callers can tell a closed pipe from garbage.
func (c *Codec) Read() (Message, error) {
	payload, err := c.readFrame()
	if err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: malformed JSON: %v", ErrProtocol, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: message missing type", ErrProtocol)
	}
	return msg, nil
}

func (c *Codec) readFrame() ([]byte, error) {
	switch c.framing {
	case FramingNewline:
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, fmt.Errorf("subproc: read frame: %w", err)
			}
		}
		if len(line) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, MaxFrameSize)
		}
		return bytes.TrimSpace(line), nil

	default:
		var prefix [4]byte
		if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("subproc: read frame prefix: %w", err)
		}
		n := binary.BigEndian.Uint32(prefix[:])
		if n == 0 || n > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame length %d out of range", ErrProtocol, n)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, fmt.Errorf("%w: truncated frame: %v", ErrProtocol, err)
		}
		return payload, nil
	}
}
