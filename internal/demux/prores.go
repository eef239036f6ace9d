package demux

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/reframe/internal/diag"
	"github.com/zsiec/reframe/internal/framer"
	"github.com/zsiec/reframe/internal/media"
	"github.com/zsiec/reframe/internal/prores"
)

// runProRes splits a raw ProRes stream into frames. Every frame is intra
// coded; timestamps count frames.
func (d *Demuxer) runProRes(ctx context.Context) error {
	rd := framer.NewReader(d.reader, prores.NewFinder(), d.chunkSize)
	rd.SetMaxFrameSize(d.maxFrame)

	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.log.Debug("raw input consumed", "bytes", rd.BytesRead())
				return nil
			}
			if errors.Is(err, framer.ErrFrameTooLarge) {
				d.report.Anomaly(diag.KindTruncatedFrame, "dropping oversized frame", "error", err)
				continue
			}
			return fmt.Errorf("demux: read prores: %w", err)
		}

		u := media.NewAccessUnit(frame, n, n)
		u.Flags = media.FlagKeyframe
		if err := checkProResFrame(frame); err != nil {
			d.report.Anomaly(diag.KindTruncatedFrame, "damaged ProRes frame", "frame", n, "error", err)
			u.Flags |= media.FlagCorrupt
		}
		n++
		if !d.emit(ctx, u) {
			return ctx.Err()
		}
	}
}

// checkProResFrame validates the header and that the size field matches the
// bytes found between markers.
func checkProResFrame(frame []byte) error {
	h, err := prores.ParseFrameHeader(frame)
	if err != nil {
		return err
	}
	if int(h.FrameSize) != len(frame) {
		return fmt.Errorf("frame size field %d, found %d bytes", h.FrameSize, len(frame))
	}
	return nil
}
