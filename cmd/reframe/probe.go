package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zsiec/reframe/internal/demux"
	"github.com/zsiec/reframe/internal/probe"
	"github.com/zsiec/reframe/internal/prores"
)

func runProbe(_ context.Context, e *env, args []string) error {
	fs, debug := e.flagSet("probe", "FILE...")
	if err := e.parse(fs, debug, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	var failed int
	for _, path := range fs.Args() {
		line, err := probeFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(e.stdout, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(e.stdout, "%s: %s\n", path, line)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files not recognized", failed, fs.NArg())
	}
	return nil
}

// probeFile describes the format of the file at path in one line.
func probeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	format, score, err := probe.Default().DetectReader(br)
	if err != nil {
		if errors.Is(err, probe.ErrUnknownFormat) {
			return "", errors.New("unknown format")
		}
		return "", err
	}
	codec, _ := demux.CodecFor(format.Name)
	line := fmt.Sprintf("%s (score %d), codec %s", format.Name, score, codec)

	if format.Name == demux.FormatProRes {
		head, _ := br.Peek(prores.MinProbeSize)
		if h, err := prores.ParseFrameHeader(head); err == nil {
			line += fmt.Sprintf(", %dx%d %s, creator %q", h.Width, h.Height, h.FrameType, h.Creator)
		}
	}
	return line, nil
}
