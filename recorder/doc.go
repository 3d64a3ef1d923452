// Package recorder keeps live streams of tracked Twitch channels recorded.
//
// An Orchestrator runs the reconciliation loop. Every tick it:
//   - reloads the configuration file when its modification time changed,
//     applying it all at once or not at all;
//   - asks the platform which tracked channels are live;
//   - drops halted streams that are no longer live;
//   - starts a capture for every live stream that is neither halted nor
//     already recorded;
//   - polls captures without blocking and hands finished ones to the Worker;
//   - logs a status line when the number of recordings changed.
//
// The Worker remuxes each finished capture, copies it into the final directory
// and removes the intermediate files. Jobs cross from the loop to the worker
// over a channel and are never shared: the sender forgets a job once sent.
//
// Nothing is persisted. Jobs that are capturing when the process stops are
// left on disk as raw captures.
package recorder
