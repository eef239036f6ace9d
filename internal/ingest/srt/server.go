package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reframe/internal/ingest"
)

// readBufferSize is the read buffer for SRT socket reads: ten payloads of
// 1316 bytes, the usual SRT message size.
const readBufferSize = 1316 * 10

// DefaultLatency is the SRT receiver latency when none is configured.
const DefaultLatency = 120 * time.Millisecond

// Protocol is recorded on every stream registered by this package.
const Protocol = "srt"

// Server accepts incoming SRT publish connections and registers them with
// the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	latency  time.Duration
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr. A latency of zero
// selects DefaultLatency. If log is nil, slog.Default() is used.
func NewServer(addr string, latency time.Duration, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		latency:  latency,
		registry: registry,
	}
}

// Start accepts publish connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = s.latency

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr, "latency", s.latency)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		return s.admit(req.StreamID)
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		streamKey := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", streamKey, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, streamKey)
	}
}

// admit decides at handshake whether a publisher may use streamID. Zero
// accepts.
func (s *Server) admit(streamID string) srtgo.RejectReason {
	if streamID == "" {
		return srtgo.RejPeer
	}
	key := extractStreamKey(streamID)
	if err := ingest.ValidateKey(key); err != nil {
		s.log.Warn("rejecting invalid stream key", "stream_id", streamID, "error", err)
		return srtgo.RejPeer
	}
	if _, busy := s.registry.Get(key); busy {
		s.log.Warn("rejecting publish to active stream key", "stream_id", streamID)
		return srtgo.RejPeer
	}
	return 0
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, streamKey string) {
	defer conn.Close()

	stream, writer, err := s.registry.Register(streamKey, Protocol)
	if err != nil {
		s.log.Warn("dropping connection", "stream_key", streamKey, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	pump(ctx, s.log, conn, stream, writer)

	stats := stream.IngestStats()
	s.registry.Unregister(stream)
	s.log.Info("connection closed", "stream_key", streamKey,
		"session", stream.SessionID,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// pump copies conn into w until the connection ends, the pipeline stops
// reading or ctx is cancelled.
func pump(ctx context.Context, log *slog.Logger, conn io.Reader, stream *ingest.Stream, w io.Writer) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "stream_key", stream.Key, "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
