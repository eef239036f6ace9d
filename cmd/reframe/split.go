package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/zsiec/reframe/internal/demux"
	"github.com/zsiec/reframe/internal/pipeline"
	"github.com/zsiec/reframe/internal/probe"
)

// frameLimits registers the raw framing flags shared by split and unpack.
type frameLimits struct {
	chunkSize    int
	maxFrameSize string
}

func (l *frameLimits) register(fs *pflag.FlagSet) {
	fs.IntVar(&l.chunkSize, "chunk-size", 4096, "read size for raw input")
	fs.StringVar(&l.maxFrameSize, "max-frame-size", "64MiB", "largest raw frame accepted, 0 for no limit")
}

func (l *frameLimits) options() ([]pipeline.Option, error) {
	limit, err := humanize.ParseBytes(l.maxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("%w: --max-frame-size: %v", errUsage, err)
	}
	if l.chunkSize <= 0 {
		return nil, fmt.Errorf("%w: --chunk-size must be positive", errUsage)
	}
	return []pipeline.Option{
		pipeline.WithChunkSize(l.chunkSize),
		pipeline.WithMaxFrameSize(int(limit)),
	}, nil
}

func runSplit(ctx context.Context, e *env, args []string) error {
	fs, debug := e.flagSet("split", "[flags] FILE")
	out := fs.StringP("output", "o", "", "output directory (default FILE.frames)")
	var limits frameLimits
	limits.register(fs)
	if err := e.parse(fs, debug, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	path := fs.Arg(0)
	if *out == "" {
		*out = path + ".frames"
	}
	opts, err := limits.options()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// The file extension depends on the codec, so detect before creating
	// the sink.
	format, err := detectFile(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	codec, err := demux.CodecFor(format)
	if err != nil {
		return err
	}
	sink, err := pipeline.NewDirWriter(*out, pipeline.Extension(codec))
	if err != nil {
		return err
	}

	opts = append(opts, pipeline.WithFormat(format), pipeline.WithLogger(e.log))
	p := pipeline.New(path, f, sink, opts...)
	if err := p.Run(ctx); err != nil {
		return err
	}
	st := p.Stats()
	fmt.Fprintf(e.stdout, "%s: wrote %d %s frames (%s) to %s\n",
		path, sink.Count(), codec, humanize.Bytes(uint64(st.BytesOut)), *out)
	return nil
}

// detectFile detects the format of f and rewinds it.
func detectFile(f *os.File) (string, error) {
	head := make([]byte, probe.DefaultProbeSize)
	n, _ := f.ReadAt(head, 0)
	format, score := probe.Detect(head[:n])
	if score == 0 {
		return "", probe.ErrUnknownFormat
	}
	return format.Name, nil
}
