package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reframe/internal/certs"
	"github.com/zsiec/reframe/internal/config"
	"github.com/zsiec/reframe/internal/ingest"
	srtingest "github.com/zsiec/reframe/internal/ingest/srt"
	"github.com/zsiec/reframe/internal/metrics"
	"github.com/zsiec/reframe/internal/pipeline"
	"github.com/zsiec/reframe/internal/stream"
)

func runServe(ctx context.Context, e *env, args []string) error {
	fs, debug := e.flagSet("serve", "[flags]")
	configPath := fs.StringP("config", "c", "", "config file (default: search reframe.toml, /etc/reframe/reframe.toml)")
	var pulls []string
	fs.StringArrayVar(&pulls, "pull", nil, "pull KEY=HOST:PORT from a remote SRT listener, repeatable")
	if err := e.parse(fs, debug, args); err != nil {
		return err
	}

	reqs := make([]srtingest.PullRequest, 0, len(pulls))
	for _, p := range pulls {
		req, err := parsePull(p)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	paths := config.DefaultPaths
	if *configPath != "" {
		paths = []string{*configPath}
	}
	conf, err := config.Parse(paths)
	if err != nil {
		return err
	}

	s := &server{
		log:  e.log,
		conf: conf,
		mgr:  stream.NewManager(e.log),
		met:  metrics.New(),
	}

	e.log.Info("reframe starting",
		"version", version,
		"srt", conf.SRT.Address,
		"metrics", conf.Metrics.Address,
		"output", conf.Output.Dir,
		"output_format", conf.Output.Format,
	)

	g, ctx := errgroup.WithContext(ctx)

	// The registry and caller are created after the errgroup so stream
	// handlers observe the group context.
	s.registry = ingest.NewRegistry(func(st *ingest.Stream, input io.Reader) {
		s.handleStream(ctx, st, input)
	})
	s.met.MustRegister(metrics.NewIngestExporter(s.registry))
	caller := srtingest.NewCaller(s.registry, conf.SRT.LatencyDuration(), e.log)
	srtSrv := srtingest.NewServer(conf.SRT.Address, conf.SRT.LatencyDuration(), s.registry, e.log)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	for _, req := range reqs {
		g.Go(func() error {
			if err := caller.Pull(ctx, req); err != nil {
				e.log.Error("pull failed", "stream_key", req.StreamKey, "address", req.Address, "error", err)
			}
			return nil
		})
	}

	if conf.Metrics.Enabled {
		metricsSrv := &http.Server{
			Addr:              conf.Metrics.Address,
			Handler:           s.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		if conf.Metrics.TLS {
			cert, err := certs.Generate(0, conf.Metrics.TLSHosts...)
			if err != nil {
				return fmt.Errorf("metrics certificate: %w", err)
			}
			metricsSrv.TLSConfig = cert.TLSConfig()
			e.log.Info("generated self-signed metrics certificate",
				"fingerprint", cert.FingerprintHex(),
				"expires", cert.NotAfter.Format(time.RFC3339),
			)
		}
		g.Go(func() error {
			e.log.Info("metrics server listening", "addr", conf.Metrics.Address, "tls", conf.Metrics.TLS)
			var err error
			if metricsSrv.TLSConfig != nil {
				err = metricsSrv.ListenAndServeTLS("", "")
			} else {
				err = metricsSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

type server struct {
	log      *slog.Logger
	conf     *config.Config
	mgr      *stream.Manager
	met      *metrics.Metrics
	registry *ingest.Registry
}

func (s *server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.met.Handler())
	mux.HandleFunc("/streams", s.handleStreams)
	return mux
}

// handleStream runs the pipeline of one ingest connection until its input
// ends.
func (s *server) handleStream(ctx context.Context, in *ingest.Stream, input io.Reader) {
	log := s.log.With("stream", in.Key, "session", in.SessionID)
	log.Info("new stream from ingest", "protocol", in.Protocol)

	st, err := s.mgr.Create(in.Key, in.SessionID)
	if err != nil {
		log.Warn("rejecting duplicate stream connection", "error", err)
		io.Copy(io.Discard, input)
		return
	}
	defer s.mgr.Remove(in.Key)

	sink, err := s.openSink(in)
	if err != nil {
		log.Error("cannot open output", "error", err)
		io.Copy(io.Discard, input)
		return
	}

	p := pipeline.New(in.Key, input, sink,
		pipeline.WithLogger(s.log),
		pipeline.WithMetrics(s.met),
		pipeline.WithRecorder(st),
		pipeline.WithChunkSize(s.conf.App.ChunkSize),
		pipeline.WithMaxFrameSize(s.conf.App.MaxFrameSize),
	)
	runErr := p.Run(ctx)
	st.SetFormat(p.Stats().Format)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		log.Error("pipeline error", "error", runErr)
	}
	// The transport blocks on the pipe until everything is read.
	io.Copy(io.Discard, input)
	log.Info("stream ended", "stats", p.Stats().String())
}

// outputBase returns dir/key/session, refusing names that would leave dir.
func outputBase(dir, key, session string) (string, error) {
	for _, name := range []string{key, session} {
		if err := ingest.ValidateKey(name); err != nil {
			return "", fmt.Errorf("output path: %w", err)
		}
	}
	base := filepath.Join(dir, key, session)
	rel, err := filepath.Rel(dir, base)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path %q escapes %q", base, dir)
	}
	return base, nil
}

// openSink creates the output for a stream under the configured directory,
// named by stream key and session.
func (s *server) openSink(in *ingest.Stream) (pipeline.Sink, error) {
	base, err := outputBase(s.conf.Output.Dir, in.Key, in.SessionID)
	if err != nil {
		return nil, err
	}
	if s.conf.Output.Format == "frames" {
		// The frame extension is only known once the format is detected.
		return pipeline.NewDirWriter(base, ".frame")
	}

	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, err
	}
	ext := ".m4v"
	if s.conf.Output.Format == "ts" {
		ext = ".ts"
	}
	f, err := os.Create(base + ext)
	if err != nil {
		return nil, err
	}
	if s.conf.Output.Format == "ts" {
		return pipeline.NewTSWriter(f), nil
	}
	return pipeline.NewESWriter(f), nil
}
