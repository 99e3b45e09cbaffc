package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/zeusync/crowdsim/internal/core/events/bus"
)

// Writer appends JSON lines to zstd-compressed segment files, rotating to a
// new segment every UTC hour. Lines are flushed as they are written so a
// crash loses at most the entry in flight.
type Writer struct {
	dir    string
	prefix string

	mu      sync.Mutex
	segment string
	f       *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
}

// NewWriter builds a writer rooted at dir. No file is opened until the first
// entry arrives.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix}
}

// Write marshals v and appends it as one line to the current segment.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segment := time.Now().UTC().Format("2006-01-02-15")
	if segment != w.segment {
		if err := w.rotateLocked(segment); err != nil {
			return err
		}
	}

	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err = w.buf.Write(line); err != nil {
		return err
	}
	if err = w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(segment string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, segment))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.buf = bufio.NewWriterSize(enc, 128*1024)
	w.segment = segment
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.buf = nil
	return err
}

// Recorder journals every notification published on the bus. Delivery is
// synchronous with the simulation tick, so the write path stays short: one
// marshal, one buffered write, one flush into the compressor.
type Recorder struct {
	w   *Writer
	sub bus.Subscription
}

// NewRecorder attaches a journal to the bus, writing under dir/events.
func NewRecorder(b bus.Bus, dir string) (*Recorder, error) {
	r := &Recorder{w: NewWriter(filepath.Join(dir, "events"), "events")}
	sub, err := b.SubscribeAll(func(event bus.Event) error {
		return r.w.Write(event)
	})
	if err != nil {
		return nil, fmt.Errorf("journal subscribe: %w", err)
	}
	r.sub = sub
	return r, nil
}

// Close detaches from the bus and seals the current segment.
func (r *Recorder) Close() error {
	if r.sub != nil {
		_ = r.sub.Cancel()
	}
	return r.w.Close()
}
