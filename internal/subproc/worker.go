package subproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Handler implements a stage on the child side of the protocol.
type Handler interface {
	// Init applies the supervisor's stage configuration. An error rejects
	// the handshake and the child exits.
	Init(config json.RawMessage) error

	// Process handles one request and returns the result payload. An error
	// is reported back as an error message; the loop keeps serving.
	Process(ctx context.Context, data json.RawMessage) (any, error)
}

// Serve runs the child side of the protocol over r and w until shutdown, the
// parent closes the pipe, or ctx is canceled. It answers init with ready,
// process with result or error, and returns nil on an orderly shutdown.
func Serve(ctx context.Context, r io.Reader, w io.Writer, framing Framing, h Handler) error {
	codec := NewCodec(r, w, framing)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := codec.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Parent went away; treat like shutdown.
				return nil
			}
			return fmt.Errorf("subproc: serve: %w", err)
		}

		switch msg.Type {
		case TypeInit:
			if err := h.Init(msg.Config); err != nil {
				_ = codec.Write(Message{Type: TypeError, Error: err.Error()})
				return fmt.Errorf("subproc: init rejected: %w", err)
			}
			if err := codec.Write(Message{Type: TypeReady}); err != nil {
				return err
			}

		case TypeProcess:
			result, err := h.Process(ctx, msg.Data)
			if err != nil {
				if werr := codec.Write(Message{Type: TypeError, ID: msg.ID, Error: err.Error()}); werr != nil {
					return werr
				}
				continue
			}
			data, err := json.Marshal(result)
			if err != nil {
				if werr := codec.Write(Message{Type: TypeError, ID: msg.ID, Error: fmt.Sprintf("encode result: %v", err)}); werr != nil {
					return werr
				}
				continue
			}
			if err := codec.Write(Message{Type: TypeResult, ID: msg.ID, Data: data}); err != nil {
				return err
			}

		case TypeShutdown:
			return nil

		default:
			return fmt.Errorf("%w: unexpected %q from supervisor", ErrProtocol, msg.Type)
		}
	}
}
