package main

import (
	"context"
	"fmt"
	"time"

	"github.com/PiotrWarzachowski/mqttcore/core"
	"github.com/PiotrWarzachowski/mqttcore/transport/tcp"
)

// cliHandler adapts core.EventHandler to the demo CLI's needs: it always
// surfaces connect/disconnect on channels so command Actions can block on
// them, and optionally forwards publish/subscribe/publish-recv events to
// per-command callbacks.
type cliHandler struct {
	connectCh    chan core.ConnectEvent
	disconnectCh chan core.DisconnectEvent

	onPublishRecv func(core.PublishRecvEvent)
	onPublish     func(core.PublishEvent)
	onSubscribe   func(core.SubscribeEvent)
}

func newCLIHandler() *cliHandler {
	return &cliHandler{
		connectCh:    make(chan core.ConnectEvent, 1),
		disconnectCh: make(chan core.DisconnectEvent, 1),
	}
}

func (h *cliHandler) OnConnect(e core.ConnectEvent) {
	select {
	case h.connectCh <- e:
	default:
	}
}

func (h *cliHandler) OnDisconnect(e core.DisconnectEvent) {
	select {
	case h.disconnectCh <- e:
	default:
	}
}

func (h *cliHandler) OnPublishRecv(e core.PublishRecvEvent) {
	if h.onPublishRecv != nil {
		h.onPublishRecv(e)
	}
}

func (h *cliHandler) OnPublish(e core.PublishEvent) {
	if h.onPublish != nil {
		h.onPublish(e)
	}
}

func (h *cliHandler) OnSubscribe(e core.SubscribeEvent) {
	if h.onSubscribe != nil {
		h.onSubscribe(e)
	}
}

func (h *cliHandler) OnUnsubscribe(core.UnsubscribeEvent) {}
func (h *cliHandler) OnKeepAlive(core.KeepAliveEvent)     {}

// dialBlocking opens a connection and blocks until the client reports
// accepted, refused, or a transport failure, or ctx is done first.
// requestTimeout, when non-zero, enables the core's optional pending-
// request timeout scan (DESIGN.md Open Question 1) before connecting.
func dialBlocking(ctx context.Context, host string, port int, info *core.ClientInfo, dialTimeout, requestTimeout time.Duration) (*core.Client, *cliHandler, error) {
	c := core.NewClient(4096, 4096)
	if requestTimeout > 0 {
		c.EnableRequestTimeout(requestTimeout)
	}
	h := newCLIHandler()
	adapter := tcp.New(c, dialTimeout, 4096)

	if err := c.Connect(adapter, host, port, h, info); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	select {
	case e := <-h.connectCh:
		if e.Status != core.StatusAccepted {
			return nil, nil, fmt.Errorf("broker refused connection: status %d", e.Status)
		}
		return c, h, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
