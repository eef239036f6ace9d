package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/zsiec/reframe/internal/pipeline"
)

func runUnpack(ctx context.Context, e *env, args []string) error {
	fs, debug := e.flagSet("unpack", "[flags] IN OUT")
	outFormat := fs.StringP("format", "f", "es", `output container: "es" or "ts"`)
	var limits frameLimits
	limits.register(fs)
	if err := e.parse(fs, debug, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}
	opts, err := limits.options()
	if err != nil {
		return err
	}

	in, err := openInput(e, fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := openOutput(e, fs.Arg(1))
	if err != nil {
		return err
	}

	var sink pipeline.Sink
	switch *outFormat {
	case "es":
		sink = pipeline.NewESWriter(out)
	case "ts":
		sink = pipeline.NewTSWriter(out)
	default:
		out.Close()
		return fmt.Errorf("%w: unknown output format %q", errUsage, *outFormat)
	}

	opts = append(opts, pipeline.WithLogger(e.log))
	p := pipeline.New(fs.Arg(0), in, sink, opts...)
	runErr := p.Run(ctx)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	st := p.Stats()
	fmt.Fprintf(e.stderr, "%s: %d units in, %d out (%s), %d packed units split, %d n-vops dropped\n",
		fs.Arg(0), st.UnitsIn, st.UnitsOut, humanize.Bytes(uint64(st.BytesOut)),
		st.Unpack.Unpacked, st.Unpack.NVOPsDropped)
	return nil
}

func openInput(e *env, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(e.stdin), nil
	}
	return os.Open(path)
}

// nopWriteCloser keeps stdout open when the sink closes.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openOutput(e *env, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{e.stdout}, nil
	}
	return os.Create(path)
}
