package mpegts

import "github.com/zsiec/reframe/internal/probe"

// probePackets is how many packet starts Probe inspects.
const probePackets = 5

// Probe scores buf as a transport stream by checking for sync bytes at
// packet intervals. Fewer than three packets give a partial score.
func Probe(buf []byte) int {
	n := min(len(buf)/PacketSize, probePackets)
	if n == 0 {
		return 0
	}
	for i := range n {
		if buf[i*PacketSize] != SyncByte {
			return 0
		}
	}
	if n < 3 {
		return probe.ScoreMax / 4 * n
	}
	return probe.ScoreMax
}
