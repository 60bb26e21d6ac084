// Package connpool provides a sharded pool of reusable per-connection
// contexts (read/write buffers plus parser state), so that accept/close
// churn under load doesn't repeatedly hit the allocator.
package connpool
