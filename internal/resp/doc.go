// Package resp implements a Redis-compatible RESP2 wire codec: an
// incremental parser that turns a byte stream into commands without
// blocking on short reads, and a set of append-style writers for encoding
// replies.
package resp
