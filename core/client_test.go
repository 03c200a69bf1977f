package core

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	started bool
	sent    [][]byte
	closed  bool
	sendErr error
}

func (f *fakeTransport) Start(host string, port int) error { f.started = true; return nil }
func (f *fakeTransport) Send(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}
func (f *fakeTransport) Close() error { f.closed = true; return nil }
func (f *fakeTransport) Recved(int)   {}

type fakeHandler struct {
	connects      []ConnectEvent
	disconnects   []DisconnectEvent
	publishes     []PublishEvent
	publishRecvs  []PublishRecvEvent
	subscribes    []SubscribeEvent
	unsubscribes  []UnsubscribeEvent
	keepAlives    int
}

func (h *fakeHandler) OnConnect(e ConnectEvent)           { h.connects = append(h.connects, e) }
func (h *fakeHandler) OnDisconnect(e DisconnectEvent)     { h.disconnects = append(h.disconnects, e) }
func (h *fakeHandler) OnPublishRecv(e PublishRecvEvent)   { h.publishRecvs = append(h.publishRecvs, e) }
func (h *fakeHandler) OnPublish(e PublishEvent)           { h.publishes = append(h.publishes, e) }
func (h *fakeHandler) OnSubscribe(e SubscribeEvent)       { h.subscribes = append(h.subscribes, e) }
func (h *fakeHandler) OnUnsubscribe(e UnsubscribeEvent)   { h.unsubscribes = append(h.unsubscribes, e) }
func (h *fakeHandler) OnKeepAlive(e KeepAliveEvent)       { h.keepAlives++ }

func newConnectedClient(t *testing.T) (*Client, *fakeTransport, *fakeHandler) {
	t.Helper()
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	info := &ClientInfo{ClientID: "t1", KeepAliveSecs: 0}

	require.NoError(t, c.Connect(tr, "broker", 1883, h, info))
	c.OnConnected()
	require.True(t, tr.started)
	require.Len(t, tr.sent, 1, "OnConnected must send exactly one CONNECT")

	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, byte(ConnAccepted)})
	c.OnRecv(connack)
	c.OnSent(len(tr.sent[0]), true)
	require.Equal(t, Connected, c.state)
	return c, tr, h
}

func TestClientConnectRejectsWhenAlreadyConnecting(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	info := &ClientInfo{ClientID: "dup"}
	require.NoError(t, c.Connect(tr, "h", 1, nil, info))

	err := c.Connect(tr, "h", 1, nil, info)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientOnConnackAcceptedTransitionsToConnected(t *testing.T) {
	_, _, h := newConnectedClient(t)
	require.Len(t, h.connects, 1)
	assert.Equal(t, StatusAccepted, h.connects[0].Status)
}

func TestClientOnConnackRefusedDeliversStatusWithoutConnecting(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	require.NoError(t, c.Connect(tr, "h", 1, h, &ClientInfo{ClientID: "x"}))
	c.OnConnected()

	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, byte(ConnRefusedBadCreds)})
	c.OnRecv(connack)

	require.Len(t, h.connects, 1)
	assert.Equal(t, StatusRefusedBadCreds, h.connects[0].Status)
	assert.NotEqual(t, Connected, c.state)
}

func TestClientOnConnackWithInvalidCodeIsProtocolError(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	require.NoError(t, c.Connect(tr, "h", 1, h, &ClientInfo{ClientID: "x"}))
	c.OnConnected()

	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, 0x09}) // no such return code
	c.OnRecv(connack)

	require.Len(t, h.connects, 1)
	assert.Equal(t, StatusProtocolError, h.connects[0].Status)
}

func TestClientPublishQoS0ConfirmsOnSentWatermarkNotOnEnqueue(t *testing.T) {
	c, tr, h := newConnectedClient(t)
	baseSent := len(tr.sent)

	require.NoError(t, c.Publish("a/b", []byte("x"), QoS0, false, "publish-arg"))
	assert.Empty(t, h.publishes, "QoS0 publish must not confirm before the transport reports it sent")

	require.Len(t, tr.sent, baseSent+1)
	c.OnSent(len(tr.sent[baseSent]), true)

	require.Len(t, h.publishes, 1)
	assert.Equal(t, "publish-arg", h.publishes[0].Arg)
	assert.Equal(t, ResultSuccess, h.publishes[0].Result)
}

func TestClientSubscribeSuccessOnSuback(t *testing.T) {
	c, tr, h := newConnectedClient(t)

	require.NoError(t, c.Subscribe("topic/a", QoS1, "sub-arg"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)

	pid := c.pidGen.next // last generated id
	body := make([]byte, 3)
	binary.BigEndian.PutUint16(body, pid)
	body[2] = 0x01 // granted qos 1
	c.OnRecv(rawPacket(byte(ptSuback)<<4, body))

	require.Len(t, h.subscribes, 1)
	assert.Equal(t, "sub-arg", h.subscribes[0].Arg)
	assert.Equal(t, ResultSuccess, h.subscribes[0].Result)
}

func TestClientSubackFailureCodeYieldsResultError(t *testing.T) {
	c, tr, h := newConnectedClient(t)
	require.NoError(t, c.Subscribe("topic/a", QoS1, "sub-arg"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)

	pid := c.pidGen.next
	body := make([]byte, 3)
	binary.BigEndian.PutUint16(body, pid)
	body[2] = 0x80 // subscribe failure
	c.OnRecv(rawPacket(byte(ptSuback)<<4, body))

	require.Len(t, h.subscribes, 1)
	assert.Equal(t, ResultError, h.subscribes[0].Result)
}

func TestClientOnCloseDrainsAllPendingRequestsAsFailures(t *testing.T) {
	c, tr, h := newConnectedClient(t)

	require.NoError(t, c.Subscribe("t1", QoS1, "s"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)
	require.NoError(t, c.Unsubscribe("t1", "u"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)
	require.NoError(t, c.Publish("t2", []byte("p"), QoS1, false, "p"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)

	c.OnClose(true)

	require.Len(t, h.subscribes, 1)
	assert.Equal(t, ResultError, h.subscribes[0].Result)
	require.Len(t, h.unsubscribes, 1)
	assert.Equal(t, ResultError, h.unsubscribes[0].Result)
	require.Len(t, h.publishes, 1)
	assert.Equal(t, ResultError, h.publishes[0].Result)
	require.Len(t, h.disconnects, 1)
	assert.True(t, h.disconnects[0].IsAccepted, "closing from CONNECTED must report IsAccepted")
	assert.Equal(t, Disconnected, c.state)
}

func TestClientOnCloseIsNotAcceptedFromConnectingMQTT(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	require.NoError(t, c.Connect(tr, "h", 1, h, &ClientInfo{ClientID: "x"}))
	c.OnConnected()
	require.Equal(t, ConnectingMQTT, c.state)

	c.OnClose(true)

	require.Len(t, h.disconnects, 1)
	assert.False(t, h.disconnects[0].IsAccepted)
}

func TestClientInboundPublishQoS1SendsPuback(t *testing.T) {
	c, tr, h := newConnectedClient(t)
	baseSent := len(tr.sent)

	body := []byte{0x00, 0x01, 't'} // topic "t"
	var pidBytes [2]byte
	binary.BigEndian.PutUint16(pidBytes[:], 9)
	body = append(body, pidBytes[:]...)
	body = append(body, []byte("payload")...)

	hdr := (byte(ptPublish) << 4) | (byte(QoS1) << 1)
	c.OnRecv(rawPacket(hdr, body))

	require.Len(t, h.publishRecvs, 1)
	assert.Equal(t, "t", h.publishRecvs[0].Topic)
	assert.Equal(t, []byte("payload"), h.publishRecvs[0].Payload)
	assert.Equal(t, QoS1, h.publishRecvs[0].QoS)

	require.Len(t, tr.sent, baseSent+1, "QoS1 inbound publish must trigger a PUBACK send")
	ackType := packetType(tr.sent[baseSent][0] >> 4)
	assert.Equal(t, ptPuback, ackType)
}

func TestClientEnableRequestTimeoutFailsPendingRequestPastDeadline(t *testing.T) {
	c, tr, h := newConnectedClient(t)

	clock := time.Now()
	fakeNow := func() time.Time { return clock }
	c.now = fakeNow
	c.reqTable.now = fakeNow // requestTable stamps timeoutStart with its own clock
	c.EnableRequestTimeout(5 * time.Second)

	require.NoError(t, c.Subscribe("t1", QoS1, "sub-arg"))
	c.OnSent(len(tr.sent[len(tr.sent)-1]), true)

	clock = clock.Add(4 * time.Second)
	c.OnPoll()
	assert.Empty(t, h.subscribes, "request must not time out before the deadline elapses")

	clock = clock.Add(2 * time.Second)
	c.OnPoll()

	require.Len(t, h.subscribes, 1, "OnPoll must fail the pending request once its timeout elapses")
	assert.Equal(t, ResultError, h.subscribes[0].Result)

	require.NoError(t, c.Subscribe("t2", QoS1, "sub-arg-2"), "the freed slot must be reusable")
}

func TestClientSubscribeErrNoMemWhenRequestTableFull(t *testing.T) {
	c := NewClient(4096, 4096)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	info := &ClientInfo{ClientID: "full"}
	require.NoError(t, c.Connect(tr, "broker", 1883, h, info))
	c.OnConnected()
	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, byte(ConnAccepted)})
	c.OnRecv(connack)
	c.OnSent(len(tr.sent[0]), true)
	require.Equal(t, Connected, c.state)

	for i := 0; i < DefaultRequestCapacity; i++ {
		require.NoError(t, c.Subscribe(fmt.Sprintf("t%d", i), QoS1, i), "slot %d should still be free", i)
	}

	err := c.Subscribe("overflow", QoS1, "overflow-arg")
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestClientPublishErrNoMemWhenTxRingTooSmall(t *testing.T) {
	// Large enough to fit the CONNECT packet but not the PUBLISH below.
	c := NewClient(32, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	info := &ClientInfo{ClientID: "tiny"}
	require.NoError(t, c.Connect(tr, "broker", 1883, h, info))
	c.OnConnected()
	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, byte(ConnAccepted)})
	c.OnRecv(connack)
	c.OnSent(len(tr.sent[0]), true)
	require.Equal(t, Connected, c.state)

	err := c.Publish("some/long/enough/topic", []byte("a payload longer than the ring"), QoS1, false, "arg")
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestClientOnConnErrorReportsTCPFailedAndResetsState(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	h := &fakeHandler{}
	require.NoError(t, c.Connect(tr, "h", 1, h, &ClientInfo{ClientID: "x"}))
	require.Equal(t, ConnectingTCP, c.state)

	c.OnConnError()

	require.Len(t, h.connects, 1)
	assert.Equal(t, StatusTCPFailed, h.connects[0].Status)
	assert.Equal(t, Disconnected, c.state)
	assert.Nil(t, c.transport)

	// a fresh Connect must be legal again now that the client reset.
	require.NoError(t, c.Connect(tr, "h", 1, h, &ClientInfo{ClientID: "x"}))
}

func TestClientDisconnectIsNoopWhenAlreadyDisconnected(t *testing.T) {
	c := NewClient(256, 256)
	require.Equal(t, Disconnected, c.state)
	assert.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.state)
}

func TestClientDisconnectTransitionsConnectedToDisconnecting(t *testing.T) {
	c, tr, _ := newConnectedClient(t)

	require.NoError(t, c.Disconnect())

	assert.Equal(t, Disconnecting, c.state)
	assert.True(t, tr.closed, "Disconnect must close the transport")

	// a second Disconnect while already disconnecting is a no-op.
	assert.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnecting, c.state)
}

func TestClientKeepAliveFiresPingOnceIntervalElapses(t *testing.T) {
	c := NewClient(256, 256)
	tr := &fakeTransport{}
	info := &ClientInfo{ClientID: "k", KeepAliveSecs: 1} // 1s keep-alive, PollIntervalMS=500
	require.NoError(t, c.Connect(tr, "h", 1, nil, info))
	c.OnConnected()
	c.OnSent(len(tr.sent[0]), true)

	connack := rawPacket(byte(ptConnack)<<4, []byte{0x00, byte(ConnAccepted)})
	c.OnRecv(connack)

	baseSent := len(tr.sent)
	c.OnPoll()
	assert.Len(t, tr.sent, baseSent, "one poll tick (500ms) must not yet trigger a ping for a 1s keep-alive")
	c.OnPoll()
	require.Len(t, tr.sent, baseSent+1, "two poll ticks must reach the 1s keep-alive deadline")
	assert.Equal(t, ptPingreq, packetType(tr.sent[baseSent][0]>>4))
}
