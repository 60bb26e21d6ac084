// Package main provides the entry point for respkv-server.
//
// respkv-server is a RESP-protocol-compatible in-memory key/value server:
// an epoll-based reactor dispatching SET/GET/DEL/MSET/MGET/INFO to a
// sharded, adaptively-cached store, with optional on-disk persistence and
// a Prometheus metrics endpoint.
//
// Usage:
//
//	respkv-server [flags]
//	respkv-server --config /path/to/config.yaml
package main
