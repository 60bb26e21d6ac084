// Package reactor implements the epoll-based I/O multiplexer described in
// spec.md §4.7: one acceptor loop, N workers each owning a private
// readiness set and a disjoint set of connections, least-loaded accept
// assignment, and read/write handling that drains until EAGAIN. Fds are
// registered level-triggered (EPOLLET is not set), so a read loop that
// stops at the per-call byte limit is woken again for the rest.
package reactor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/respkv/respkv-go/internal/bufpool"
	"github.com/respkv/respkv-go/internal/command"
	"github.com/respkv/respkv-go/internal/connpool"
)

const (
	epollWaitTimeoutMillis = 100
	maxEventsPerWait       = 256
	readChunkSize          = 16 * 1024
)

// Worker owns one epoll set and the connections assigned to it. A
// connection belongs to exactly one worker for its entire lifetime.
type Worker struct {
	id         int
	epfd       int
	bufPool    *bufpool.Pool
	connPool   *connpool.Pool
	dispatcher *command.Dispatcher
	logger     *slog.Logger

	maxBufferSize int

	// conns maps fd -> *connpool.Conn for this worker's connections. Only
	// this worker's own Run goroutine ever touches it (Assign only queues
	// fds into pending under pendingMu), so a plain map needs no lock.
	conns map[int]*connpool.Conn

	clientCount atomic.Int64

	pendingMu sync.Mutex
	pending   []int // fds accepted but not yet registered with epoll

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a Worker with its own epoll instance. Call Run to
// start its readiness loop and Stop to shut it down.
func NewWorker(id int, bufPool *bufpool.Pool, connPool *connpool.Pool, dispatcher *command.Dispatcher, maxBufferSize int, logger *slog.Logger) (*Worker, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:            id,
		epfd:          epfd,
		bufPool:       bufPool,
		connPool:      connPool,
		dispatcher:    dispatcher,
		logger:        logger,
		maxBufferSize: maxBufferSize,
		conns:         make(map[int]*connpool.Conn),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// ClientCount reports this worker's current connection count, used by the
// acceptor's least-loaded assignment.
func (w *Worker) ClientCount() int64 {
	return w.clientCount.Load()
}

// Assign hands fd to this worker. The fd is registered with epoll on the
// worker's own goroutine during its next readiness wait, avoiding
// cross-goroutine epoll_ctl races.
func (w *Worker) Assign(fd int) {
	w.clientCount.Add(1)

	w.pendingMu.Lock()
	w.pending = append(w.pending, fd)
	w.pendingMu.Unlock()
}

func (w *Worker) registerPending() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	for _, fd := range pending {
		conn := w.connPool.Acquire(fd)
		w.conns[fd] = conn

		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
		if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			w.logger.Warn("epoll_ctl add failed", "fd", fd, "error", err)
			w.dropLocked(fd)
		}
	}
}

// Run blocks, servicing readiness events until Stop is called.
func (w *Worker) Run() {
	defer close(w.doneCh)

	events := make([]unix.EpollEvent, maxEventsPerWait)
	for {
		select {
		case <-w.stopCh:
			w.shutdownConns()
			return
		default:
		}

		w.registerPending()

		n, err := unix.EpollWait(w.epfd, events, epollWaitTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.logger.Error("epoll_wait failed", "worker", w.id, "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			switch {
			case ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0:
				w.drop(fd)
			case ev.Events&unix.EPOLLIN != 0:
				w.handleReadable(fd)
			case ev.Events&unix.EPOLLOUT != 0:
				w.handleWritable(fd)
			}
		}
	}
}

// Stop signals the worker to exit its readiness loop and blocks until it
// has drained its epoll set and closed every owned fd. Idempotent: a
// second call is a no-op rather than a double-close panic, since Stop may
// be invoked from both a signal handler and an explicit shutdown path.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = unix.Close(w.epfd)
	})
}

func (w *Worker) connFor(fd int) (*connpool.Conn, bool) {
	conn, ok := w.conns[fd]
	return conn, ok
}

func (w *Worker) handleReadable(fd int) {
	conn, ok := w.connFor(fd)
	if !ok {
		return
	}

	var totalRead int
	for {
		if !conn.Read.Reserve(readChunkSize, w.bufPool) {
			w.protocolErrorReset(conn, fd)
			return
		}
		slice := conn.Read.WriteSlice(readChunkSize)
		n, err := unix.Read(fd, slice)

		if n > 0 {
			conn.Read.Advance(n)
			totalRead += n
		}
		if err == unix.EAGAIN {
			break
		}
		if n == 0 && err == nil {
			w.drop(fd)
			return
		}
		if err != nil {
			w.drop(fd)
			return
		}
		if totalRead >= w.maxBufferSize {
			break
		}
	}

	if conn.Read.Len() == 0 {
		return
	}

	cmds, perr := conn.Parser.Feed(conn.Read.Unread())
	conn.Read.Consume(conn.Read.Len())
	conn.Read.Compact()
	conn.LastActive = time.Now().UnixNano()

	if len(cmds) == 0 {
		if perr != nil {
			w.queueWrite(conn, fd, []byte("-ERR Protocol error\r\n"))
		}
		return
	}

	// Dispatch runs inline, on the worker goroutine that owns this
	// connection's fd: commands for one connection must be processed in
	// the order they arrived, and handing them to a separate pool could
	// let two batches from the same connection complete out of order.
	reply := w.dispatcher.DispatchBatch(cmds, nil)
	if perr != nil {
		reply = append(reply, "-ERR Protocol error\r\n"...)
	}
	w.queueWrite(conn, fd, reply)
}

func (w *Worker) queueWrite(conn *connpool.Conn, fd int, reply []byte) {
	conn.WriterMu.Lock()
	conn.Write.Append(reply, w.bufPool)
	pending := conn.Write.Pending()
	conn.WriterMu.Unlock()

	if len(pending) > 0 {
		w.armWritable(fd)
		w.handleWritable(fd)
	}
}

func (w *Worker) armWritable(fd int) {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP, Fd: int32(fd)}
	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (w *Worker) disarmWritable(fd int) {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (w *Worker) handleWritable(fd int) {
	conn, ok := w.connFor(fd)
	if !ok {
		return
	}

	conn.WriterMu.Lock()
	defer conn.WriterMu.Unlock()

	for {
		pending := conn.Write.Pending()
		if len(pending) == 0 {
			break
		}
		n, err := unix.Write(fd, pending)
		if n > 0 {
			conn.Write.Advance(n)
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			w.drop(fd)
			return
		}
		if n == 0 {
			break
		}
	}

	w.disarmWritable(fd)
}

// protocolErrorReset implements the backpressure rule in spec.md §4.7: a
// read buffer that would exceed MAX_BUFFER_SIZE is reset, and the client
// gets a protocol error on the connection's next parse attempt.
func (w *Worker) protocolErrorReset(conn *connpool.Conn, fd int) {
	conn.Parser.Reset()
	w.queueWrite(conn, fd, []byte("-ERR Protocol error: buffer limit exceeded\r\n"))
}

func (w *Worker) drop(fd int) {
	w.dropLocked(fd)
}

func (w *Worker) dropLocked(fd int) {
	conn, ok := w.conns[fd]
	if !ok {
		return
	}
	delete(w.conns, fd)
	w.clientCount.Add(-1)

	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	_ = unix.Close(fd)
	w.connPool.Release(conn, fd)
}

func (w *Worker) shutdownConns() {
	for fd, conn := range w.conns {
		delete(w.conns, fd)
		_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		_ = unix.Close(fd)
		w.connPool.Release(conn, fd)
	}
	w.clientCount.Store(0)
}
