package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zsiec/reframe/internal/media"
	"github.com/zsiec/reframe/internal/mpegts"
)

// Sink receives the pipeline's output units in decode order. WriteUnit takes
// ownership of the unit.
type Sink interface {
	WriteUnit(u *media.AccessUnit) error
	Close() error
}

// ESWriter concatenates unit payloads into an elementary stream.
type ESWriter struct {
	bw     *bufio.Writer
	closer io.Closer
	n      int64
}

// NewESWriter writes to w. If w is an io.Closer it is closed by Close.
func NewESWriter(w io.Writer) *ESWriter {
	es := &ESWriter{bw: bufio.NewWriterSize(w, 1<<16)}
	if c, ok := w.(io.Closer); ok {
		es.closer = c
	}
	return es
}

// WriteUnit appends u's payload.
func (w *ESWriter) WriteUnit(u *media.AccessUnit) error {
	n, err := w.bw.Write(u.Data)
	w.n += int64(n)
	return err
}

// Written returns the payload bytes accepted so far.
func (w *ESWriter) Written() int64 {
	return w.n
}

// Close flushes buffered output and closes the underlying writer.
func (w *ESWriter) Close() error {
	err := w.bw.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// DirWriter stores each unit in its own file, named by sequence number.
type DirWriter struct {
	dir  string
	ext  string
	next int
}

// NewDirWriter creates dir if needed. Files are named frame-000000<ext>.
func NewDirWriter(dir, ext string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirWriter{dir: dir, ext: ext}, nil
}

// WriteUnit writes u to the next file.
func (w *DirWriter) WriteUnit(u *media.AccessUnit) error {
	name := filepath.Join(w.dir, fmt.Sprintf("frame-%06d%s", w.next, w.ext))
	if err := os.WriteFile(name, u.Data, 0o644); err != nil {
		return err
	}
	w.next++
	return nil
}

// Count returns the number of files written.
func (w *DirWriter) Count() int {
	return w.next
}

// Close is a no-op; every file is complete once written.
func (w *DirWriter) Close() error {
	return nil
}

// TSWriter remuxes MPEG-4 Part 2 units into a single-program transport
// stream.
type TSWriter struct {
	mux    *mpegts.Muxer
	bw     *bufio.Writer
	closer io.Closer
}

// NewTSWriter writes to w. If w is an io.Closer it is closed by Close.
func NewTSWriter(w io.Writer) *TSWriter {
	tw := &TSWriter{bw: bufio.NewWriterSize(w, 1<<16)}
	tw.mux = mpegts.NewMuxer(tw.bw, mpegts.StreamTypeMPEG4Video)
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// WriteUnit writes u as one PES packet.
func (w *TSWriter) WriteUnit(u *media.AccessUnit) error {
	return w.mux.WriteUnit(u.Data, u.PTS, u.DTS, u.IsKeyframe())
}

// Close flushes buffered packets and closes the underlying writer.
func (w *TSWriter) Close() error {
	w.mux.Close()
	err := w.bw.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Discard drops every unit.
type Discard struct{}

// WriteUnit implements Sink.
func (Discard) WriteUnit(*media.AccessUnit) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

// Extension returns the file extension used for units of codec.
func Extension(codec string) string {
	switch codec {
	case "mpeg4":
		return ".m4v"
	case "prores":
		return ".icpf"
	default:
		return ".bin"
	}
}
