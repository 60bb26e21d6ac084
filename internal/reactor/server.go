package reactor

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/respkv/respkv-go/internal/bufpool"
	"github.com/respkv/respkv-go/internal/command"
	"github.com/respkv/respkv-go/internal/connpool"
)

// Config configures a Server, mirroring spec.md §6's server and thread
// pool configuration groups.
type Config struct {
	Host           string
	Port           int
	MaxConnections int64
	ReadThreads    int // worker count; 0 = auto = runtime.NumCPU()
	MaxBufferSize  int
}

// Server is the Facade described in spec.md §4.8: it owns the listening
// socket, the worker pool, the acceptor goroutine, and exposes aggregate
// statistics. Grounded on the teacher's redisserver.Server Config/Start/
// Shutdown shape, generalized here to own a reactor worker pool instead
// of one goroutine per connection.
type Server struct {
	cfg        Config
	bufPool    *bufpool.Pool
	connPool   *connpool.Pool
	workers    []*Worker
	acceptor   *Acceptor
	dispatcher *command.Dispatcher
	logger     *slog.Logger
	startedAt  time.Time

	acceptDone chan error
	stopOnce   sync.Once
}

// New builds a Server and its worker pool but does not start accepting
// connections; call Run for that.
func New(cfg Config, dispatcher *command.Dispatcher, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadThreads < 1 {
		cfg.ReadThreads = runtime.NumCPU()
	}
	if cfg.MaxBufferSize < 1 {
		cfg.MaxBufferSize = connpool.MaxBufferSize
	}

	bufPool := bufpool.New()
	connPool := connpool.New(bufPool)

	workers := make([]*Worker, cfg.ReadThreads)
	for i := range workers {
		w, err := NewWorker(i, bufPool, connPool, dispatcher, cfg.MaxBufferSize, logger)
		if err != nil {
			return nil, err
		}
		workers[i] = w
	}

	acceptor, err := NewAcceptor(cfg.Host, cfg.Port, workers, cfg.MaxConnections, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:        cfg,
		bufPool:    bufPool,
		connPool:   connPool,
		workers:    workers,
		acceptor:   acceptor,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// BufPool returns the buffer pool shared by this server's workers, for
// internal/telemetry/metric to sample free-list occupancy.
func (s *Server) BufPool() *bufpool.Pool {
	return s.bufPool
}

// ConnPool returns the connection-context pool shared by this server's
// workers, for internal/telemetry/metric to sample free-list occupancy.
func (s *Server) ConnPool() *connpool.Pool {
	return s.connPool
}

// WorkerCount reports the number of reactor worker goroutines.
func (s *Server) WorkerCount() int {
	return len(s.workers)
}

// Run starts every worker and the acceptor, then blocks until Stop is
// called or the acceptor errors.
func (s *Server) Run() error {
	s.startedAt = time.Now()
	for _, w := range s.workers {
		go w.Run()
	}

	s.acceptDone = make(chan error, 1)
	go func() {
		s.acceptDone <- s.acceptor.Run()
	}()

	return <-s.acceptDone
}

// Stop stops the acceptor first, then drains and closes every worker's
// connections. Idempotent: a second call is a no-op. The acceptor and each
// worker guard their own close with a sync.Once too, so Stop is safe to
// call from both a signal handler and an explicit shutdown path without
// coordination between the two.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.acceptor.Stop()
		for _, w := range s.workers {
			w.Stop()
		}
	})
}

// Stats is the Server Facade's aggregate statistics, per spec.md §4.8.
type Stats struct {
	TotalConnections   int64
	CurrentConnections int64
	UptimeSeconds      float64
}

// Stats returns a snapshot of aggregate connection statistics.
func (s *Server) Stats() Stats {
	return Stats{
		TotalConnections:   s.acceptor.TotalConnections(),
		CurrentConnections: s.acceptor.CurrentConnections(),
		UptimeSeconds:      time.Since(s.startedAt).Seconds(),
	}
}
