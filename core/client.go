// Package core implements the MQTT 3.1.1 client-core state machine: the
// incremental parser, the fixed/variable header encoder, the request
// tracking table, the keep-alive timer, and the connection lifecycle —
// the part of this module that has to deal with fragmented byte streams,
// at-most-one in-flight request per packet id, and the overlap between
// send backpressure and publish confirmation.
//
// Everything in this package runs under the single cooperative
// serialization domain described by spec.md §5: Client.mu stands in for
// core_lock. Public operations acquire it on entry and release it on
// return; transport callbacks (OnRecv, OnSent, OnPoll, OnClose,
// OnConnError) must already be called with it held — see Transport.
package core

import (
	"encoding/binary"
	"sync"
	"time"
)

// PollIntervalMS is the cadence at which the transport is expected to
// call OnPoll, driving the keep-alive handshake (spec.md §4.5 on_poll).
const PollIntervalMS = 500

// DefaultRequestCapacity is the request table's fixed slot count, chosen
// once per Client at construction — the spec treats this as a
// compile/build-time constant (spec.md §4.4), so it is not adjustable
// after NewClient.
const DefaultRequestCapacity = 16

// ConnState is the connection lifecycle state (spec.md §3). The source
// reuses a single CONNECTING label for both "TCP dialing" and "TCP up,
// CONNECT sent, awaiting CONNACK"; this implementation splits them per
// the spec's own suggestion (§9 "State enum split") without changing
// observable behavior.
type ConnState int

const (
	Disconnected ConnState = iota
	ConnectingTCP
	ConnectingMQTT
	Connected
	Disconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case ConnectingTCP:
		return "CONNECTING_TCP"
	case ConnectingMQTT:
		return "CONNECTING_MQTT"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Client is the top-level entity: one transport connection, one transmit
// ring buffer, one receive buffer (owned by the parser), one request
// table, and the state machine variables (spec.md §3 Client).
type Client struct {
	mu sync.Mutex

	state     ConnState
	transport Transport
	info      *ClientInfo
	handler   EventHandler
	arg       any

	tx       *ringBuffer
	parser   *parser
	reqTable *requestTable
	pidGen   packetIDGen

	isSending    bool
	writtenTotal uint64
	sentTotal    uint64
	pollTime     int

	requestTimeout time.Duration // 0 disables (DESIGN.md Open Question 1)

	now func() time.Time
}

// NewClient allocates a client with a tx ring buffer of txLen bytes and a
// parser receive buffer of rxLen bytes (spec.md §6 client_new). The
// request table uses DefaultRequestCapacity slots.
func NewClient(txLen, rxLen int) *Client {
	c := &Client{
		state: Disconnected,
		tx:    newRingBuffer(txLen),
		now:   time.Now,
	}
	c.reqTable = newRequestTable(DefaultRequestCapacity, c.now)
	c.parser = newParser(rxLen, c.dispatchPacket, c.warnf)
	return c
}

func (c *Client) warnf(format string, args ...any) {
	Logger.Warnf(format, args...)
}

// EnableRequestTimeout turns on the optional pending-request timeout scan
// during OnPoll: a request pending for at least d is failed and freed.
// Disabled by default, matching the C source, which stamps a timeout
// start time but never consults it (spec.md §9 Open Question).
func (c *Client) EnableRequestTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestTimeout = d
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is in the CONNECTED state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected
}

// SetArg stores an application-chosen value alongside the client.
func (c *Client) SetArg(arg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arg = arg
}

// GetArg returns the value last passed to SetArg.
func (c *Client) GetArg() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arg
}

// Lock and Unlock expose core_lock (spec.md §5) to transport
// implementations: a Transport must call Lock before invoking any On*
// method and Unlock immediately after, so that On* always runs under the
// same exclusive domain as the public operations above.
func (c *Client) Lock()   { c.mu.Lock() }
func (c *Client) Unlock() { c.mu.Unlock() }

// Close deletes the client. Legal only while DISCONNECTED (spec.md §3
// Client lifecycle).
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disconnected {
		return ErrNotDisconnected
	}
	return nil
}

// ---- Outgoing operations (application -> client), spec.md §4.5 ----

// Connect stores info and handler, attaches transport, and initiates a
// non-blocking dial. Legal only from DISCONNECTED.
func (c *Client) Connect(transport Transport, host string, port int, handler EventHandler, info *ClientInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return ErrClosed
	}
	if transport == nil || info == nil {
		return ErrGeneric
	}

	c.transport = transport
	c.info = info
	c.handler = handler
	c.state = ConnectingTCP

	if err := transport.Start(host, port); err != nil {
		c.state = Disconnected
		c.transport = nil
		return err
	}
	return nil
}

// Subscribe enqueues a SUBSCRIBE for topic at the given QoS (always QoS 1
// on the wire, per MQTT 3.1.1) and flushes. Legal only while CONNECTED.
func (c *Client) Subscribe(topic string, qos QoS, arg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrClosed
	}
	if topic == "" {
		return ErrGeneric
	}

	remLen := 2 /* packet id */ + 2 + len(topic) /* topic string */ + 1 /* qos */
	if checkMemory(c.tx, remLen) == 0 {
		return ErrNoMem
	}

	pid := c.pidGen.generate()
	req := c.reqTable.create(reqSubscribe, pid, arg)
	if req == nil {
		return ErrNoMem
	}

	encodeSubscribe(c.tx, pid, topic, qos)
	c.reqTable.setPending(req)
	c.flush()
	return nil
}

// Unsubscribe enqueues an UNSUBSCRIBE for topic and flushes. Legal only
// while CONNECTED.
func (c *Client) Unsubscribe(topic string, arg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrClosed
	}
	if topic == "" {
		return ErrGeneric
	}

	remLen := 2 + 2 + len(topic)
	if checkMemory(c.tx, remLen) == 0 {
		return ErrNoMem
	}

	pid := c.pidGen.generate()
	req := c.reqTable.create(reqUnsubscribe, pid, arg)
	if req == nil {
		return ErrNoMem
	}

	encodeUnsubscribe(c.tx, pid, topic)
	c.reqTable.setPending(req)
	c.flush()
	return nil
}

// Publish enqueues a PUBLISH and flushes. QoS is clamped to at most
// QoS2. For QoS>0 a packet id and pending request are allocated as usual;
// for QoS0 the request carries packet id 0 and an expectedSentLen
// watermark, so the success event fires once the transport confirms the
// bytes sent (see OnSent), not merely once they're enqueued.
func (c *Client) Publish(topic string, payload []byte, qos QoS, retain bool, arg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrClosed
	}
	if topic == "" {
		return ErrGeneric
	}
	qos = qos.clamp()

	remLen := 2 + len(topic)
	if qos > QoS0 {
		remLen += 2
	}
	remLen += len(payload)

	total := checkMemory(c.tx, remLen)
	if total == 0 {
		return ErrNoMem
	}

	var pid uint16
	if qos > QoS0 {
		pid = c.pidGen.generate()
	}

	req := c.reqTable.create(reqPublish, pid, arg)
	if req == nil {
		return ErrNoMem
	}
	if qos == QoS0 {
		req.expectedSentLen = c.writtenTotal + uint64(total)
	}

	encodePublish(c.tx, pid, topic, payload, qos, retain, false)
	c.reqTable.setPending(req)
	c.flush()
	return nil
}

// Disconnect requests a non-blocking transport close. No-op if already
// DISCONNECTED or DISCONNECTING.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected || c.state == Disconnecting {
		return nil
	}
	c.state = Disconnecting
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// ---- Incoming operations (transport -> client), spec.md §4.5 ----

// OnConnected builds and sends the CONNECT packet, resets the parser,
// and moves to ConnectingMQTT awaiting CONNACK. Must be called with the
// lock held (see Transport).
func (c *Client) OnConnected() {
	if !encodeConnect(c.tx, c.info) {
		Logger.Error("mqttcore: tx buffer too small for CONNECT packet")
		c.initiateClose()
		return
	}
	c.parser.reset()
	c.pollTime = 0
	c.state = ConnectingMQTT
	c.flush()
}

// OnRecv feeds an inbound fragment to the parser, dispatching every
// packet it completes, then acknowledges consumption to the transport.
func (c *Client) OnRecv(fragment []byte) {
	c.pollTime = 0
	c.parser.feed(fragment)
	if c.transport != nil {
		c.transport.Recved(len(fragment))
	}
}

// OnSent reports that a previously queued Send either completed (ok) or
// failed. On success it advances the tx ring's read cursor, drains
// QoS-0 publishes confirmed by the new sentTotal, and attempts a further
// flush.
func (c *Client) OnSent(n int, ok bool) {
	c.isSending = false
	c.sentTotal += uint64(n)
	c.pollTime = 0

	if !ok {
		c.initiateClose()
		return
	}

	c.tx.skip(n)

	for _, r := range c.reqTable.pendingZeroIDAscending() {
		if r.expectedSentLen > c.sentTotal {
			break
		}
		if c.handler != nil {
			c.handler.OnPublish(PublishEvent{Arg: r.arg, Result: ResultSuccess})
		}
		c.reqTable.delete(r)
	}

	c.flush()
}

// OnPoll drives the keep-alive handshake and, if enabled, the optional
// pending-request timeout scan. Called every PollIntervalMS.
func (c *Client) OnPoll() {
	if c.state == Disconnecting {
		return
	}
	c.pollTime++

	if c.info != nil && c.info.KeepAliveSecs > 0 {
		if c.pollTime*PollIntervalMS >= int(c.info.KeepAliveSecs)*1000 {
			if checkMemory(c.tx, 0) > 0 {
				encodePingreq(c.tx)
				c.flush()
				c.pollTime = 0
			}
		}
	}

	if c.requestTimeout > 0 {
		c.scanRequestTimeouts()
	}
}

func (c *Client) scanRequestTimeouts() {
	deadline := c.now().Add(-c.requestTimeout)
	c.reqTable.forEachPending(func(r *request) {
		if r.timeoutStart.IsZero() || r.timeoutStart.After(deadline) {
			return
		}
		c.deliverFailure(r)
		c.reqTable.delete(r)
	})
}

// OnClose tears the connection down: delivers a DISCONNECT event (whose
// IsAccepted mirrors the source exactly, see DESIGN.md Open Question 3),
// drains every pending request with a failure event, and resets all
// per-connection counters and buffers.
func (c *Client) OnClose(forced bool) {
	prev := c.state
	c.state = Disconnected

	isAccepted := prev == Connected || prev == Disconnecting
	if c.handler != nil {
		c.handler.OnDisconnect(DisconnectEvent{IsAccepted: isAccepted})
	}
	c.transport = nil

	c.reqTable.forEachPending(func(r *request) {
		c.deliverFailure(r)
	})
	c.reqTable.reset()

	c.parser.reset()
	c.isSending = false
	c.sentTotal = 0
	c.writtenTotal = 0
	c.tx.reset()
}

// OnConnError reports that the transport failed before a connection was
// ever established.
func (c *Client) OnConnError() {
	if c.handler != nil {
		c.handler.OnConnect(ConnectEvent{Status: StatusTCPFailed})
	}
	c.state = Disconnected
	c.transport = nil
}

func (c *Client) deliverFailure(r *request) {
	if c.handler == nil {
		return
	}
	switch r.kind {
	case reqSubscribe:
		c.handler.OnSubscribe(SubscribeEvent{Arg: r.arg, Result: ResultError})
	case reqUnsubscribe:
		c.handler.OnUnsubscribe(UnsubscribeEvent{Arg: r.arg, Result: ResultError})
	case reqPublish:
		c.handler.OnPublish(PublishEvent{Arg: r.arg, Result: ResultError})
	}
}

func (c *Client) initiateClose() {
	if c.transport != nil {
		_ = c.transport.Close()
	}
}

// flush attempts to hand the tx ring's next contiguous block to the
// transport. A no-op while a previous Send is still outstanding (spec.md
// §4.5 "flush()").
func (c *Client) flush() {
	if c.isSending {
		return
	}
	block := c.tx.linearReadBlock()
	if len(block) == 0 {
		c.tx.reset()
		return
	}
	if c.transport == nil {
		return
	}
	if err := c.transport.Send(block); err != nil {
		Logger.Warnf("mqttcore: send failed: %v", err)
		c.initiateClose()
		return
	}
	c.isSending = true
	c.writtenTotal += uint64(len(block))
}

// ---- Packet dispatch (parser -> state machine), spec.md §4.5 ----

func (c *Client) dispatchPacket(hdrByte byte, body []byte) {
	pt := packetType(hdrByte >> 4)

	switch pt {
	case ptConnack:
		c.onConnack(body)
	case ptPublish:
		c.onPublish(hdrByte, body)
	case ptPingresp:
		if c.handler != nil {
			c.handler.OnKeepAlive(KeepAliveEvent{})
		}
	case ptPubrec:
		c.onPubrecOrPubrel(body, ptPubrel)
	case ptPubrel:
		c.onPubrecOrPubrel(body, ptPubcomp)
	case ptSuback, ptUnsuback, ptPuback, ptPubcomp:
		c.onAck(pt, body)
	default:
		Logger.Warnf("mqttcore: protocol violation: unexpected packet type %d", pt)
	}
}

func (c *Client) onConnack(body []byte) {
	if c.state != ConnectingMQTT {
		Logger.Warnf("mqttcore: protocol violation: CONNACK received in state %s", c.state)
		return
	}
	if len(body) < 2 {
		Logger.Warnf("mqttcore: malformed CONNACK, body too short")
		return
	}
	code := body[1]
	if !validConnectReturnCode(code) {
		if c.handler != nil {
			c.handler.OnConnect(ConnectEvent{Status: StatusProtocolError})
		}
		return
	}
	status := connectStatusFromReturnCode(code)
	if status == StatusAccepted {
		c.state = Connected
	}
	if c.handler != nil {
		c.handler.OnConnect(ConnectEvent{Status: status})
	}
}

func (c *Client) onPublish(hdrByte byte, body []byte) {
	flags := hdrByte & 0x0F
	dup := flags&0x08 != 0
	qos := QoS((flags >> 1) & 0x03)
	retain := flags&0x01 != 0

	if len(body) < 2 {
		Logger.Warnf("mqttcore: malformed PUBLISH, body too short")
		return
	}
	topicLen := int(binary.BigEndian.Uint16(body[:2]))
	if len(body) < 2+topicLen {
		Logger.Warnf("mqttcore: malformed PUBLISH, topic truncated")
		return
	}
	topic := string(body[2 : 2+topicLen])
	offset := 2 + topicLen

	var pid uint16
	if qos > QoS0 {
		if len(body) < offset+2 {
			Logger.Warnf("mqttcore: malformed PUBLISH, packet id missing")
			return
		}
		pid = binary.BigEndian.Uint16(body[offset : offset+2])
		offset += 2
	}

	payload := append([]byte(nil), body[offset:]...)

	if qos == QoS1 {
		encodeAckLike(c.tx, ptPuback, pid)
		c.flush()
	} else if qos == QoS2 {
		encodeAckLike(c.tx, ptPubrec, pid)
		c.flush()
	}

	if c.handler != nil {
		c.handler.OnPublishRecv(PublishRecvEvent{Topic: topic, Payload: payload, QoS: qos, Dup: dup})
	}
}

func (c *Client) onPubrecOrPubrel(body []byte, reply packetType) {
	if len(body) < 2 {
		Logger.Warnf("mqttcore: malformed packet, body too short")
		return
	}
	pid := binary.BigEndian.Uint16(body[:2])
	encodeAckLike(c.tx, reply, pid)
	c.flush()
}

func (c *Client) onAck(pt packetType, body []byte) {
	if len(body) < 2 {
		Logger.Warnf("mqttcore: malformed ack, body too short")
		return
	}
	pid := int(binary.BigEndian.Uint16(body[:2]))

	req := c.reqTable.findPending(pid)
	if req == nil {
		Logger.Warnf("mqttcore: protocol violation: ack for unknown packet id %d", pid)
		return
	}

	result := ResultSuccess
	if pt == ptSuback || pt == ptUnsuback {
		if len(body) < 3 {
			Logger.Warnf("mqttcore: malformed SUBACK/UNSUBACK, body too short")
			return
		}
		if body[2] >= 0x03 {
			result = ResultError
		}
	}

	switch req.kind {
	case reqSubscribe:
		if c.handler != nil {
			c.handler.OnSubscribe(SubscribeEvent{Arg: req.arg, Result: result})
		}
	case reqUnsubscribe:
		if c.handler != nil {
			c.handler.OnUnsubscribe(UnsubscribeEvent{Arg: req.arg, Result: result})
		}
	case reqPublish:
		if c.handler != nil {
			c.handler.OnPublish(PublishEvent{Arg: req.arg, Result: result})
		}
	}
	c.reqTable.delete(req)
}
