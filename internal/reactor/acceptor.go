package reactor

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const acceptBatch = 64

// Acceptor owns the listening socket and assigns each accepted connection
// to the least-loaded worker (minimum current client count; ties broken
// by lower worker id), per spec.md §4.7.
type Acceptor struct {
	listenFD       int
	workers        []*Worker
	maxConnections int64
	totalConns     atomic.Int64
	logger         *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAcceptor creates a non-blocking listening socket bound to host:port.
func NewAcceptor(host string, port int, workers []*Worker, maxConnections int64, logger *slog.Logger) (*Acceptor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &Acceptor{
		listenFD:       fd,
		workers:        workers,
		maxConnections: maxConnections,
		logger:         logger,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

func resolveIPv4(host string) ([4]byte, error) {
	if host == "" || host == "0.0.0.0" {
		return [4]byte{0, 0, 0, 0}, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return [4]byte{}, errors.New("reactor: invalid host " + host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return [4]byte{}, errors.New("reactor: only IPv4 listen addresses are supported, got " + host)
	}
	var out [4]byte
	copy(out[:], ip4)
	return out, nil
}

// Run polls the listening socket on its own single-fd epoll set, matching
// the "one acceptor loop owns the listening socket" topology.
func (a *Acceptor) Run() error {
	defer close(a.doneCh)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return err
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(a.listenFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, a.listenFD, &ev); err != nil {
		return err
	}

	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-a.stopCh:
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, events, epollWaitTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		a.acceptBatch()
	}
}

func (a *Acceptor) acceptBatch() {
	for i := 0; i < acceptBatch; i++ {
		fd, _, err := unix.Accept4(a.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			a.logger.Warn("accept failed", "error", err)
			return
		}

		if a.maxConnections > 0 && a.CurrentConnections() >= a.maxConnections {
			_ = unix.Close(fd)
			continue
		}

		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

		a.totalConns.Add(1)
		a.leastLoaded().Assign(fd)
	}
}

func (a *Acceptor) leastLoaded() *Worker {
	best := a.workers[0]
	bestLoad := best.ClientCount()
	for _, w := range a.workers[1:] {
		if load := w.ClientCount(); load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// Stop breaks the accept loop and closes the listening socket. Idempotent:
// a second call is a no-op rather than a double-close panic.
func (a *Acceptor) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.doneCh
		_ = unix.Close(a.listenFD)
	})
}

// TotalConnections is the cumulative count of connections ever accepted.
func (a *Acceptor) TotalConnections() int64 { return a.totalConns.Load() }

// CurrentConnections sums every worker's live client count.
func (a *Acceptor) CurrentConnections() int64 {
	var n int64
	for _, w := range a.workers {
		n += w.ClientCount()
	}
	return n
}
