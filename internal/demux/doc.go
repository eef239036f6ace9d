// Package demux turns an input byte stream into access units. It handles
// MPEG-TS carrying MPEG-4 Part 2 video and raw ProRes, both detected through
// the probe registry.
//
// The central type is [Demuxer], which reads from an [io.Reader] and
// delivers [media.AccessUnit] values on a channel until the input ends.
package demux
