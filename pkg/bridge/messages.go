package bridge

// InboundFrame is one validated client-submitted payload headed for the mesh
// gateway. ClientId exists for diagnostics only - once injected, frames are
// indistinguishable by origin.
type InboundFrame struct {
	ClientId uint32
	Payload  []byte

	// Telemetry
	RecvTime int64
}

// Registration is what a transport gets back for each accepted peer: the
// connection's identity, the channel of encoded frames awaiting delivery to
// that peer, and the hub's close signal. The transport owns the socket; the
// hub owns membership.
type Registration struct {
	ClientId       uint32
	OutgoingFrames <-chan []byte
	CloseRequested <-chan struct{}
}

// HubStats is a point-in-time snapshot of hub counters for diagnostics.
type HubStats struct {
	Clients          int
	PacketsFannedOut uint64
	FramesInjected   uint64
	InjectErrors     uint64
	InboundDropped   uint64
}
