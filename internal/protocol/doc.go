// Package protocol implements the hub's JSON-over-serial wire format.
//
// Frames are JSON objects separated by a carriage return. Inbound frames are
// either notifications (field "m" holds a tag) or responses (field "i" holds
// the id of the command being answered and "r" its result). Outbound commands
// carry "i", "m" (method name) and "p" (parameters).
//
// The package is free of I/O and goroutines: Assembler splits a byte stream
// into frame texts, Decode turns a frame text into a Frame and Encoder builds
// outbound commands.
package protocol
