package core

// ConnectStatus is the outcome delivered with a ConnectEvent.
type ConnectStatus int

const (
	StatusAccepted ConnectStatus = iota
	StatusRefusedProtoVersion
	StatusRefusedIdentifier
	StatusRefusedUnavailable
	StatusRefusedBadCreds
	StatusRefusedNotAuthed
	// StatusTCPFailed is delivered when the transport fails before a
	// CONNACK is ever seen (spec.md §4.5 on_conn_error).
	StatusTCPFailed
	// StatusProtocolError is delivered when a CONNACK carries a return
	// code outside the six (0-5) defined by MQTT 3.1.1 (DESIGN.md Open
	// Question 2).
	StatusProtocolError
)

func connectStatusFromReturnCode(code byte) ConnectStatus {
	return ConnectStatus(code)
}

// Result is the outcome of a tracked request (publish/subscribe/unsubscribe).
type Result int

const (
	ResultSuccess Result = iota
	ResultError
)

// ConnectEvent is delivered in response to Connect, on_conn_error, or a
// CONNACK while CONNECTING.
type ConnectEvent struct {
	Status ConnectStatus
}

// DisconnectEvent is delivered whenever the connection closes, forced or
// not. IsAccepted mirrors the source's exact semantics (DESIGN.md Open
// Question 3): true iff the previous state was CONNECTED or
// DISCONNECTING, even for a transport-aborted live session.
type DisconnectEvent struct {
	IsAccepted bool
}

// PublishRecvEvent is delivered for every inbound PUBLISH.
type PublishRecvEvent struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Dup     bool
}

// PublishEvent is delivered when an outgoing publish is confirmed (QoS 0:
// once transport-sent; QoS>0: once PUBACK/PUBCOMP arrives) or fails.
type PublishEvent struct {
	Arg    any
	Result Result
}

// SubscribeEvent is delivered once a SUBACK arrives for a pending
// subscribe, or the request is drained on disconnect.
type SubscribeEvent struct {
	Arg    any
	Result Result
}

// UnsubscribeEvent is delivered once an UNSUBACK arrives for a pending
// unsubscribe, or the request is drained on disconnect.
type UnsubscribeEvent struct {
	Arg    any
	Result Result
}

// KeepAliveEvent is delivered on every PINGRESP.
type KeepAliveEvent struct{}

// EventHandler receives every event the client delivers. Implementations
// must not block or call back into the Client: events fire synchronously
// while core_lock (Client.mu) is held by the caller that triggered them
// (spec.md §5, §9 "Callbacks under lock").
type EventHandler interface {
	OnConnect(ConnectEvent)
	OnDisconnect(DisconnectEvent)
	OnPublishRecv(PublishRecvEvent)
	OnPublish(PublishEvent)
	OnSubscribe(SubscribeEvent)
	OnUnsubscribe(UnsubscribeEvent)
	OnKeepAlive(KeepAliveEvent)
}
