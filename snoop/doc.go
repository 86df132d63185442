// Package snoop is the I/O engine of serialsnoop: a single-threaded,
// readiness-driven loop that taps two serial endpoints, forwards every byte
// to a trace, and optionally relays each byte out of the other endpoint.
//
// A Session owns both Endpoints, their RelayBuffers and the shutdown
// Notifier. Nothing in the package is shared with other goroutines except
// the Notifier's write end, which only ever receives a one-byte wake-up.
//
// Each loop iteration:
//  1. polls both endpoints for reading, the notifier for reading, and an
//     endpoint for writing only while its relay buffer holds bytes;
//  2. drains port 0 then port 1 until the device would block, enqueuing
//     each byte to the peer (passthrough mode) and tracing it;
//  3. writes at most one pending byte to port 0 then port 1;
//  4. ends the session if the notifier fired.
//
// Fatal conditions are returned as *Error values carrying the process exit
// Status; end of stream and shutdown both end the session with a closed
// trace and a nil error.
package snoop
