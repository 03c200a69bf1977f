// Package tcp is the concrete byte-oriented transport the MQTT client
// core is driven over when running against a real broker instead of a
// cellular modem stack (spec.md §1, §6 Transport interface).
//
// Grounded on the teacher's client/mqtt.go Connect/readLoop/
// startKeepAlive goroutine trio, restructured so the core — not the
// transport — owns all MQTT protocol state: this adapter only ever moves
// bytes and timer ticks across the core's locked boundary.
package tcp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/PiotrWarzachowski/mqttcore/core"
)

// coreClient is the subset of *core.Client an Adapter drives. Declared
// as an interface so tests can substitute a fake without a real socket.
type coreClient interface {
	Lock()
	Unlock()
	OnConnected()
	OnConnError()
	OnRecv([]byte)
	OnSent(n int, ok bool)
	OnPoll()
	OnClose(forced bool)
}

// Adapter implements core.Transport over a net.Conn. One Adapter serves
// exactly one connection attempt; Start must not be called twice.
type Adapter struct {
	client      coreClient
	dialTimeout time.Duration
	readBufSize int

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc

	sendCh  chan []byte
	sendSem *semaphore.Weighted

	closeOnce  sync.Once
	userClosed atomic.Bool
}

// New creates an Adapter for client. readBufSize sizes the per-Read
// scratch buffer handed to OnRecv (it is independent of the core's own
// rx buffer, which the parser owns).
func New(client coreClient, dialTimeout time.Duration, readBufSize int) *Adapter {
	if readBufSize <= 0 {
		readBufSize = 4096
	}
	return &Adapter{
		client:      client,
		dialTimeout: dialTimeout,
		readBufSize: readBufSize,
		sendCh:      make(chan []byte, 1),
		sendSem:     semaphore.NewWeighted(1),
	}
}

// Start dials host:port in the background; completion is reported via
// OnConnected/OnConnError, both called with the core lock held.
func (a *Adapter) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		conn, err := net.DialTimeout("tcp", addr, a.dialTimeout)

		a.client.Lock()
		defer a.client.Unlock()

		if err != nil {
			core.Logger.Warnf("mqttcore/tcp: dial %s failed: %v", addr, err)
			a.client.OnConnError()
			return
		}

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error { return a.readLoop(conn) })
		group.Go(func() error { return a.writeLoop(gctx, conn) })
		group.Go(func() error { return a.pollLoop(gctx) })

		a.client.OnConnected()
	}()

	return nil
}

// Send queues p for the write loop. The core never calls Send again
// before the previous call's completion is reported via OnSent, so a
// buffered channel of depth 1 never blocks in practice; sendSem enforces
// the same single-in-flight rule independently at the transport boundary.
func (a *Adapter) Send(p []byte) error {
	block := append([]byte(nil), p...)
	select {
	case a.sendCh <- block:
		return nil
	default:
		return errSendBusy
	}
}

// Close tears the connection down asynchronously: it must not block and
// must not acquire the core lock itself, since callers (e.g. Client.
// Disconnect) may already hold it.
func (a *Adapter) Close() error {
	a.userClosed.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Recved is a no-op: net.Conn has no explicit flow-control
// acknowledgement the way the cellular modem stack's conn_recved does.
func (a *Adapter) Recved(int) {}

func (a *Adapter) readLoop(conn net.Conn) error {
	buf := make([]byte, a.readBufSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			a.terminate()
			return err
		}
		frag := append([]byte(nil), buf[:n]...)
		a.client.Lock()
		a.client.OnRecv(frag)
		a.client.Unlock()
	}
}

func (a *Adapter) writeLoop(ctx context.Context, conn net.Conn) error {
	for {
		var block []byte
		select {
		case <-ctx.Done():
			return nil
		case block = <-a.sendCh:
		}

		if err := a.sendSem.Acquire(ctx, 1); err != nil {
			return nil
		}
		n, err := conn.Write(block)
		a.sendSem.Release(1)

		a.client.Lock()
		a.client.OnSent(n, err == nil)
		a.client.Unlock()

		if err != nil {
			a.terminate()
			return err
		}
	}
}

func (a *Adapter) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(core.PollIntervalMS * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.client.Lock()
			a.client.OnPoll()
			a.client.Unlock()
		}
	}
}

func (a *Adapter) terminate() {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		forced := !a.userClosed.Load()
		a.client.Lock()
		a.client.OnClose(forced)
		a.client.Unlock()
	})
}
