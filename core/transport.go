package core

// ClientInfo holds the immutable connection parameters supplied at
// Connect time (spec.md §3 ClientInfo). The caller guarantees it stays
// valid for the connection's lifetime; the client only ever reads it.
type ClientInfo struct {
	ClientID string
	Username string
	Password string

	WillTopic   string
	WillMessage string
	WillQoS     QoS
	WillRetain  bool

	// KeepAliveSecs is the MQTT keep-alive interval. 0 disables the
	// keep-alive ping entirely.
	KeepAliveSecs uint16
}

// Transport is the byte-oriented channel the core drives and is driven
// by (spec.md §6). Implementations must report Send completion and
// inbound data asynchronously via the Client's On* methods, and must
// never call back into the Client while already holding its lock from a
// previous callback (no reentrance, spec.md §5).
type Transport interface {
	// Start dials host:port. Must not block; completion is reported via
	// Client.OnConnected or Client.OnConnError.
	Start(host string, port int) error

	// Send writes p asynchronously. Completion is reported via
	// Client.OnSent(len(p), ok). The core never calls Send again before
	// the previous call's completion has been reported.
	Send(p []byte) error

	// Close tears the connection down asynchronously; completion is
	// reported via Client.OnClose.
	Close() error

	// Recved acknowledges that n bytes delivered via OnRecv have been
	// consumed, for transports that need it for flow control (spec.md §6
	// conn_recved). Transports without flow control needs may no-op it.
	Recved(n int)
}
