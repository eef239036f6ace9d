package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zsiec/reframe/internal/ingest"
	srtingest "github.com/zsiec/reframe/internal/ingest/srt"
	"github.com/zsiec/reframe/internal/stream"
)

type streamsResponse struct {
	Streams []stream.Info `json:"streams"`
}

// handleStreams lists the streams being processed as JSON.
func (s *server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(streamsResponse{Streams: s.mgr.List()}); err != nil {
		s.log.Debug("write streams response", "error", err)
	}
}

// parsePull parses a --pull value of the form KEY=HOST:PORT[?streamid].
func parsePull(v string) (srtingest.PullRequest, error) {
	key, addr, ok := strings.Cut(v, "=")
	if !ok || key == "" || addr == "" {
		return srtingest.PullRequest{}, fmt.Errorf("%w: --pull %q, want KEY=HOST:PORT", errUsage, v)
	}
	if err := ingest.ValidateKey(key); err != nil {
		return srtingest.PullRequest{}, fmt.Errorf("%w: --pull: %v", errUsage, err)
	}
	req := srtingest.PullRequest{StreamKey: key, Address: addr}
	if a, id, ok := strings.Cut(addr, "?"); ok {
		req.Address, req.StreamID = a, id
	}
	return req, nil
}
