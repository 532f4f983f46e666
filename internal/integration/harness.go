// Package integration assembles the whole bridge the way the daemon
// binary does, for end-to-end tests: a controller stream feeding the
// line interpreter, the in-memory store, the outbound encoder, and the
// HTTP surface consumed through the API client.
package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jiglab/jigbridge/internal/appclient"
	"github.com/jiglab/jigbridge/internal/config"
	"github.com/jiglab/jigbridge/internal/daemon"
	"github.com/jiglab/jigbridge/internal/interp"
	"github.com/jiglab/jigbridge/internal/protocol"
	"github.com/jiglab/jigbridge/internal/state"
	"github.com/jiglab/jigbridge/internal/transcript"
)

// Bridge is a fully wired in-process bridge.
type Bridge struct {
	Store  *state.Store
	Client *appclient.Client

	daemon     *daemon.Server
	controller *io.PipeWriter
	out        *lineCapture
	httpSrv    *httptest.Server
	runErr     chan error
}

// Start assembles a bridge without transcript recording.
func Start(t *testing.T) *Bridge {
	return StartWithRecorder(t, nil)
}

// StartWithRecorder assembles a bridge that records traffic to rec.
func StartWithRecorder(t *testing.T, rec *transcript.Recorder) *Bridge {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := state.NewStore()
	out := &lineCapture{}
	enc := protocol.NewEncoder(out, rec.EncoderTap(context.Background()))

	in := interp.New(store, enc)
	in.Recorder = rec
	in.Logger = logger

	pr, pw := io.Pipe()
	runErr := make(chan error, 1)
	go func() {
		runErr <- in.Run(context.Background(), pr)
	}()

	srv := daemon.NewServer(config.DefaultConfig(), store, enc)
	srv.Logger = logger
	hs := httptest.NewServer(srv.Handler())

	b := &Bridge{
		Store:      store,
		Client:     appclient.NewWithClient(hs.URL, hs.Client()),
		daemon:     srv,
		controller: pw,
		out:        out,
		httpSrv:    hs,
		runErr:     runErr,
	}
	t.Cleanup(func() {
		hs.Close()
		_ = pw.Close()
		select {
		case <-runErr:
		case <-time.After(2 * time.Second):
			t.Error("interpreter did not stop after controller stream closed")
		}
	})
	return b
}

// Feed writes one line onto the controller stream. The pipe write
// returns once the interpreter has read the bytes; the resulting store
// transition may still be in flight, so assertions should poll.
func (b *Bridge) Feed(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(b.controller, line+"\n"); err != nil {
		t.Fatalf("feed %q: %v", line, err)
	}
}

// CloseController ends the inbound stream, as controller EOF would.
func (b *Bridge) CloseController() {
	_ = b.controller.Close()
}

// OutboundLines returns every protocol line sent to the controller so
// far, in write order.
func (b *Bridge) OutboundLines() []string {
	return b.out.Lines()
}

// ExitRequested reports the daemon-side shutdown signal.
func (b *Bridge) ExitRequested() <-chan struct{} {
	return b.daemon.ExitRequested()
}

type lineCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *lineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *lineCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	text := strings.TrimSuffix(c.buf.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
