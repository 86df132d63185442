// Command serialsnoop monitors a serial conversation between two devices by
// tapping both lines with two serial ports, timestamping every byte.
//
// Usage:
//
//	serialsnoop [flags] port0 port1
//
// Flags:
//
//	-p, --param PARAMS        line parameters, <baud>[N|E|O][7|8][1|2] (default 1200E71)
//	-f, --format FORMAT       trace format: text, xml or cbor (default text)
//	-r, --relay               passthrough mode: relay each line's bytes out of the other port
//	-F, --flush               flush the trace after every byte (default when stdout is a terminal)
//	-c, --config FILE         YAML config file (or SERIALSNOOP_CONFIG)
//	    --buffer-size N       relay buffer capacity in bytes
//	    --poll-interval D     readiness poll timeout
//	    --max-write-errors N  relay write failures tolerated per port
//	-d, --debug               debug logging
//	-V, --version             print version and exit
//
// The trace goes to stdout, logs to stderr. SIGINT or SIGTERM ends the
// capture with a closed trace.
//
// Exit statuses: 0 normal end (signal or end of stream), 1 invalid
// invocation, 2 I/O failure, 3 relay buffer overrun or underrun, 99 relay
// buffer corruption.
package main
