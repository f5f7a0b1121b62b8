package supervisor

import (
	"bufio"
	"io"
	"sync"
)

// newLineScanner builds a scanner sized for long child output lines.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	return sc
}

// logRing keeps the most recent child output lines in a fixed-size ring.
type logRing struct {
	mu   sync.Mutex
	buf  []LogLine
	next int
	full bool
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	return &logRing{buf: make([]LogLine, capacity)}
}

func (r *logRing) add(l LogLine) {
	r.mu.Lock()
	r.buf[r.next] = l
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// tail returns up to limit lines, oldest first. limit <= 0 returns everything.
func (r *logRing) tail(limit int) []LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lines []LogLine
	if r.full {
		lines = append(lines, r.buf[r.next:]...)
		lines = append(lines, r.buf[:r.next]...)
	} else {
		lines = append(lines, r.buf[:r.next]...)
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// broadcast fans values out to a dynamic set of bounded subscriber channels.
// Slow subscribers lose their oldest entries rather than blocking the
// publisher.
type broadcast[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

func newBroadcast[T any]() *broadcast[T] {
	return &broadcast[T]{subs: make(map[chan T]struct{})}
}

func (b *broadcast[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcast[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for {
			select {
			case ch <- v:
			default:
				// Full: evict the oldest entry and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
