// Command lenslate-capture is a capture worker for the lenslate server. It
// speaks the framed JSON protocol on stdin/stdout and answers each capture
// request with one frame.
//
// The server launches it via the "subprocess" capture provider:
//
//	providers:
//	  capture:
//	    name: subprocess
//	    command: ["lenslate-capture"]
//
// Isolating capture in its own process keeps screen-grab crashes (driver
// quirks, permission revocations) out of the server; the supervisor restarts
// the worker and the pipelines keep running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lenslate/lenslate/internal/subproc"
	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/capture/imagedir"
	"github.com/lenslate/lenslate/pkg/provider/capture/testpattern"
)

// workerConfig is the init-message payload sent by the supervisor.
type workerConfig struct {
	// Source selects the frame source: "test-pattern" (default) or "image-dir".
	Source string `json:"source"`

	// Dir is the image directory when Source is "image-dir".
	Dir string `json:"dir"`
}

// handler serves capture requests from a configured frame source.
type handler struct {
	provider capture.Provider
}

// Init implements subproc.Handler.
func (h *handler) Init(raw json.RawMessage) error {
	var cfg workerConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parse worker config: %w", err)
		}
	}

	switch cfg.Source {
	case "", "test-pattern":
		h.provider = testpattern.New()
	case "image-dir":
		p, err := imagedir.New(cfg.Dir)
		if err != nil {
			return err
		}
		h.provider = p
	default:
		return fmt.Errorf("unknown capture source %q", cfg.Source)
	}
	slog.Info("capture worker ready", "source", cfg.Source)
	return nil
}

// Process implements subproc.Handler.
func (h *handler) Process(ctx context.Context, data json.RawMessage) (any, error) {
	var req subproc.CaptureRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse capture request: %w", err)
	}
	return h.provider.Capture(ctx, req.Region)
}

func main() {
	// stdout carries the protocol; all logging goes to stderr where the
	// supervisor forwards it into the server log.
	framingFlag := flag.String("framing", string(subproc.FramingLength), "message framing: length or newline")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	framing := subproc.Framing(*framingFlag)
	if !framing.IsValid() {
		fmt.Fprintf(os.Stderr, "lenslate-capture: invalid framing %q\n", *framingFlag)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := &handler{}
	if err := subproc.Serve(ctx, os.Stdin, os.Stdout, framing, h); err != nil && ctx.Err() == nil {
		slog.Error("capture worker exiting", "err", err)
		os.Exit(1)
	}
	if h.provider != nil {
		_ = h.provider.Close()
	}
}
