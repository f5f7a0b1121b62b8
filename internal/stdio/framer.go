// Package stdio frames newline-delimited JSON-RPC 2.0 over a child process's
// standard streams and correlates responses with outstanding requests.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loykin/mcpgate/internal/rpc"
)

const (
	// DefaultNotifyBuffer bounds the notification channel; older entries are
	// dropped first when the consumer falls behind.
	DefaultNotifyBuffer = 256

	// maxLineBytes caps a single frame read from the child.
	maxLineBytes = 10 << 20

	// parseErrorThreshold is the number of consecutive unparseable stdout
	// lines after which the child is reported failed.
	parseErrorThreshold = 32
)

// Response carries one correlated reply: the raw frame as read from the wire
// and its parsed envelope.
type Response struct {
	Raw []byte
	Msg *rpc.Message
}

// Options tune a framer; zero values take defaults.
type Options struct {
	NotifyBuffer int
	// OnDrop is invoked once per notification discarded under back-pressure.
	OnDrop func()
	// OnLogLine receives raw non-frame text (unparseable stdout lines).
	OnLogLine func(line string)
	Logger    *slog.Logger
}

// Framer owns the read loop over the child's stdout and serialises writes to
// its stdin. It is safe for concurrent use.
type Framer struct {
	w   io.Writer
	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool
	cause   error

	notify  chan []byte
	dropped atomic.Uint64

	onDrop    func()
	onLogLine func(string)
	log       *slog.Logger

	failed chan error
	done   chan struct{}
}

// New builds a framer over the child's stdin writer and stdout reader. Call
// Start to begin the read loop.
func New(w io.Writer, opts Options) *Framer {
	buffer := opts.NotifyBuffer
	if buffer <= 0 {
		buffer = DefaultNotifyBuffer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Framer{
		w:         w,
		pending:   make(map[string]chan Response),
		notify:    make(chan []byte, buffer),
		onDrop:    opts.OnDrop,
		onLogLine: opts.OnLogLine,
		log:       log,
		failed:    make(chan error, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the read loop over r. It returns immediately; failures are
// reported on Failed.
func (f *Framer) Start(r io.Reader) {
	go f.readLoop(r)
}

// Notifications is the bounded channel of out-of-band frames (notifications
// and server-initiated requests). It is closed when the framer shuts down.
func (f *Framer) Notifications() <-chan []byte { return f.notify }

// Dropped reports how many notifications were discarded under back-pressure.
func (f *Framer) Dropped() uint64 { return f.dropped.Load() }

// Failed delivers at most one childFailed cause (EOF, write error, or parse
// threshold exceeded).
func (f *Framer) Failed() <-chan error { return f.failed }

// Done is closed once the framer has fully shut down.
func (f *Framer) Done() <-chan struct{} { return f.done }

// Call writes one request frame and blocks until its response arrives, the
// context expires, or the transport closes. The id must already be unique
// among outstanding requests.
func (f *Framer) Call(ctx context.Context, id json.RawMessage, body []byte) (Response, error) {
	key := string(id)
	ch := make(chan Response, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Response{}, rpc.ErrTransportClosed
	}
	if _, dup := f.pending[key]; dup {
		f.mu.Unlock()
		return Response{}, fmt.Errorf("request id %s already outstanding", key)
	}
	f.pending[key] = ch
	f.mu.Unlock()

	if err := f.write(body); err != nil {
		f.unregister(key)
		f.fail(fmt.Errorf("write to child: %w", err))
		return Response{}, rpc.ErrTransportClosed
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return Response{}, rpc.ErrTransportClosed
		}
		return res, nil
	case <-ctx.Done():
		f.unregister(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, rpc.ErrTimeout
		}
		return Response{}, ctx.Err()
	}
}

// Notify writes one frame without expecting a reply.
func (f *Framer) Notify(body []byte) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return rpc.ErrTransportClosed
	}
	if err := f.write(body); err != nil {
		f.fail(fmt.Errorf("write to child: %w", err))
		return rpc.ErrTransportClosed
	}
	return nil
}

// Close completes every outstanding request with transportClosed and refuses
// further sends. The notification channel is closed by the read loop once the
// child's stdout drains. Safe to call more than once.
func (f *Framer) Close(cause error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cause = cause
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (f *Framer) write(body []byte) error {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, body...)
	frame = append(frame, '\n')
	_, err := f.w.Write(frame)
	return err
}

func (f *Framer) unregister(key string) {
	f.mu.Lock()
	delete(f.pending, key)
	f.mu.Unlock()
}

func (f *Framer) fail(cause error) {
	select {
	case f.failed <- cause:
	default:
	}
	f.Close(cause)
}

func (f *Framer) readLoop(r io.Reader) {
	defer func() {
		close(f.notify)
		close(f.done)
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	parseErrors := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, kind := rpc.Parse(line)
		if kind == rpc.KindInvalid {
			parseErrors++
			if f.onLogLine != nil {
				f.onLogLine(string(line))
			}
			if parseErrors >= parseErrorThreshold {
				f.fail(fmt.Errorf("child emitted %d consecutive unparseable lines", parseErrors))
				return
			}
			continue
		}
		parseErrors = 0

		switch kind {
		case rpc.KindResponse:
			f.deliver(msg, line)
		case rpc.KindNotification, rpc.KindRequest:
			// Server-initiated requests ride the notification channel.
			f.broadcast(line)
		}
	}

	if err := scanner.Err(); err != nil {
		f.fail(fmt.Errorf("read from child: %w", err))
		return
	}
	f.fail(io.EOF)
}

func (f *Framer) deliver(msg *rpc.Message, line []byte) {
	key := string(msg.ID)

	f.mu.Lock()
	ch, ok := f.pending[key]
	if ok {
		delete(f.pending, key)
	}
	f.mu.Unlock()

	if !ok {
		f.log.Warn("dropping response with no matching request", "id", key)
		return
	}
	raw := make([]byte, len(line))
	copy(raw, line)
	ch <- Response{Raw: raw, Msg: msg}
}

func (f *Framer) broadcast(line []byte) {
	raw := make([]byte, len(line))
	copy(raw, line)
	for {
		select {
		case f.notify <- raw:
			return
		default:
		}
		// Full: drop the oldest and retry.
		select {
		case <-f.notify:
			f.dropped.Add(1)
			if f.onDrop != nil {
				f.onDrop()
			}
		default:
		}
	}
}
