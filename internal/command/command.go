// Package command implements the dispatch table and handlers for the
// server's minimal Redis dialect (SET, GET, DEL, MSET, MGET, INFO), per
// spec.md §4.6.
package command

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/respkv/respkv-go/internal/resp"
	"github.com/respkv/respkv-go/internal/store"
	"github.com/respkv/respkv-go/internal/telemetry/metric"
)

// HandlerFunc executes one command's arguments (args[0] is the command
// name) and appends its RESP reply to dst, returning the grown slice.
type HandlerFunc func(s *store.Store, args resp.Command, dst []byte) []byte

// stats is the per-command latency bookkeeping exposed via INFO: call
// count plus total/min/max latency in microseconds.
type stats struct {
	calls      atomic.Uint64
	totalMicro atomic.Uint64
	minMicro   atomic.Uint64
	maxMicro   atomic.Uint64
}

func (s *stats) record(d time.Duration) {
	micro := uint64(d.Microseconds())
	s.calls.Add(1)
	s.totalMicro.Add(micro)

	for {
		cur := s.maxMicro.Load()
		if micro <= cur {
			break
		}
		if s.maxMicro.CompareAndSwap(cur, micro) {
			break
		}
	}
	for {
		cur := s.minMicro.Load()
		if cur != 0 && micro >= cur {
			break
		}
		if s.minMicro.CompareAndSwap(cur, micro) {
			break
		}
	}
}

func (s *stats) snapshot() (calls, totalMicro, minMicro, maxMicro uint64) {
	return s.calls.Load(), s.totalMicro.Load(), s.minMicro.Load(), s.maxMicro.Load()
}

// Dispatcher holds the command name → handler map and per-command latency
// stats. One Dispatcher is shared read-only across every worker; only the
// atomic stats counters inside it mutate on the hot path.
type Dispatcher struct {
	store    *store.Store
	handlers map[string]HandlerFunc
	stats    map[string]*stats
	startAt  time.Time

	// metrics is optional: a nil Registry makes RecordCommand a no-op, so
	// Dispatch never branches on whether metrics are enabled.
	metrics *metric.Registry
}

// New builds a Dispatcher backed by s, wiring the fixed SET/GET/DEL/MSET/
// MGET/INFO command set. reg may be nil if Prometheus metrics are not
// wanted; the dispatcher's INFO reply is unaffected either way, since it
// is always backed by the exact atomic stats below.
func New(s *store.Store, reg *metric.Registry) *Dispatcher {
	d := &Dispatcher{
		store:   s,
		startAt: time.Now(),
		metrics: reg,
	}
	d.handlers = map[string]HandlerFunc{
		"set":  handleSet,
		"get":  handleGet,
		"del":  handleDel,
		"mset": handleMSet,
		"mget": handleMGet,
		"info": d.handleInfo,
	}
	d.stats = make(map[string]*stats, len(d.handlers))
	for name := range d.handlers {
		d.stats[name] = &stats{}
	}
	return d
}

// Dispatch looks up cmd's handler by lowercased name, executes it, appends
// its reply to dst, and records latency stats. Unknown commands append a
// RESP error instead of invoking any handler.
func (d *Dispatcher) Dispatch(cmd resp.Command, dst []byte) []byte {
	if len(cmd) == 0 {
		return resp.WriteError(dst, "ERR no command")
	}

	name := strings.ToLower(string(cmd[0]))
	h, ok := d.handlers[name]
	if !ok {
		return resp.WriteError(dst, "ERR unknown command '"+string(cmd[0])+"'")
	}

	start := time.Now()
	dst = h(d.store, cmd, dst)
	elapsed := time.Since(start)
	d.stats[name].record(elapsed)
	d.metrics.RecordCommand(name, elapsed)
	return dst
}

// DispatchBatch runs every command in cmds through Dispatch in order,
// concatenating replies into dst — the batch-of-pipelined-commands path
// the reactor uses once the parser emits more than one Command from a
// single read.
func (d *Dispatcher) DispatchBatch(cmds []resp.Command, dst []byte) []byte {
	for _, cmd := range cmds {
		dst = d.Dispatch(cmd, dst)
	}
	return dst
}

func arityError(dst []byte, name string) []byte {
	return resp.WriteError(dst, "ERR wrong number of arguments for '"+name+"' command")
}

func handleSet(s *store.Store, args resp.Command, dst []byte) []byte {
	if len(args) != 3 {
		return arityError(dst, "set")
	}
	s.Set(string(args[1]), args[2])
	return resp.WriteSimpleString(dst, "OK")
}

func handleGet(s *store.Store, args resp.Command, dst []byte) []byte {
	if len(args) != 2 {
		return arityError(dst, "get")
	}
	v, ok := s.Get(string(args[1]))
	if !ok {
		return resp.WriteNullBulk(dst)
	}
	return resp.WriteBulk(dst, v)
}

func handleDel(s *store.Store, args resp.Command, dst []byte) []byte {
	if len(args) != 2 {
		return arityError(dst, "del")
	}
	if s.Del(string(args[1])) {
		return resp.WriteInteger(dst, 1)
	}
	return resp.WriteInteger(dst, 0)
}

func handleMSet(s *store.Store, args resp.Command, dst []byte) []byte {
	pairs := args[1:]
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return arityError(dst, "mset")
	}
	keys := make([]string, 0, len(pairs)/2)
	values := make([][]byte, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		keys = append(keys, string(pairs[i]))
		values = append(values, pairs[i+1])
	}
	s.MSet(keys, values)
	return resp.WriteSimpleString(dst, "OK")
}

func handleMGet(s *store.Store, args resp.Command, dst []byte) []byte {
	if len(args) < 2 {
		return arityError(dst, "mget")
	}
	keys := make([]string, len(args)-1)
	for i, k := range args[1:] {
		keys[i] = string(k)
	}
	values := s.MGet(keys)

	dst = resp.WriteArrayHeader(dst, len(values))
	for _, v := range values {
		dst = resp.WriteBulk(dst, v)
	}
	return dst
}

func (d *Dispatcher) handleInfo(_ *store.Store, args resp.Command, dst []byte) []byte {
	if len(args) != 1 {
		return arityError(dst, "info")
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "uptime_seconds:%d\r\n", int64(time.Since(d.startAt).Seconds()))
	fmt.Fprintf(&body, "# Commandstats\r\n")
	for name, st := range d.stats {
		calls, total, min, max := st.snapshot()
		var avg uint64
		if calls > 0 {
			avg = total / calls
		}
		fmt.Fprintf(&body, "cmdstat_%s:calls=%d,usec_total=%d,usec_min=%d,usec_max=%d,usec_avg=%d\r\n",
			name, calls, total, min, max, avg)
	}

	return resp.WriteBulk(dst, body.Bytes())
}
