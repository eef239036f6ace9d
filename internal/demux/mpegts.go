package demux

import (
	"context"
	"errors"
	"io"

	"github.com/zsiec/reframe/internal/media"
	"github.com/zsiec/reframe/internal/mpeg4"
	"github.com/zsiec/reframe/internal/mpegts"
)

// runMPEGTS follows the PMT to the first MPEG-4 Part 2 video stream and
// emits one access unit per PES packet. Other streams are ignored.
func (d *Demuxer) runMPEGTS(ctx context.Context) error {
	dmx := mpegts.NewDemuxer(ctx, d.reader)
	defer func() {
		d.log.Debug("transport stream stats", "stats", dmx.Stats().String())
	}()

	var videoPID uint16
	var haveVideo, sentExtra bool

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if data.PMT != nil {
			if haveVideo {
				continue
			}
			for _, es := range data.PMT.Streams {
				if es.Type == mpegts.StreamTypeMPEG4Video {
					videoPID, haveVideo = es.PID, true
					d.log.Info("found video PID", "pid", es.PID, "codec", "MPEG-4 Part 2")
					break
				}
			}
			if !haveVideo {
				d.log.Warn("program carries no MPEG-4 Part 2 video", "streams", len(data.PMT.Streams))
			}
			continue
		}

		if data.PES == nil || !haveVideo || data.PID != videoPID || len(data.PES.Data) == 0 {
			continue
		}

		pes := data.PES
		u := media.NewAccessUnit(pes.Data, pes.PTS.Value, pes.DTSOrPTS())
		if mpeg4.IsKeyframe(pes.Data) {
			u.Flags |= media.FlagKeyframe
		}
		if !sentExtra {
			if hdr := mpeg4.Headers(pes.Data); hdr != nil {
				u.ExtraData = append([]byte(nil), hdr...)
				sentExtra = true
			}
		}
		if !d.emit(ctx, u) {
			return ctx.Err()
		}
	}
}
