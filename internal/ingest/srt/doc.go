// Package srt implements SRT (Secure Reliable Transport) ingest: a listener
// (Server) accepting publish connections and a dialer (Caller) pulling
// streams from remote SRT listeners. Both copy received bytes into the
// ingest registry, where a pipeline detects the payload format.
package srt
