// Package chat records Twitch chat next to video captures.
//
// A Recorder holds one anonymous IRC connection. Start joins a channel and
// appends every message to a JSON-lines file; Stop departs once no capture of
// that channel needs it. Several captures of the same channel share the join.
//
// Each line carries the wall-clock time of the message and its offset in
// seconds from the moment recording started, so chat can be replayed against
// the video. Chat failures are logged and never affect the capture itself.
package chat
