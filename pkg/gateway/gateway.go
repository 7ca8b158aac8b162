// Package gateway defines the boundary between the bridge and the mesh/radio
// stack. The bridge never looks inside a packet; it hands validated payloads
// to a Gateway and receives mesh-originated payloads through a callback.
package gateway

// Gateway is the narrow interface the mesh stack exposes to the bridge. An
// implementation may refuse a payload (radio busy, queue full, packet
// rejected by the firmware); the bridge logs the refusal and drops the frame.
// There is no retry - duplicate injection is worse than a dropped packet for
// a flood-routed broadcast protocol.
type Gateway interface {
	Inject(payload []byte) error
}

// PacketHandler receives mesh-originated packets. The bridge hub satisfies
// this; gateway implementations call it whenever the radio or local serial
// path produces a packet to broadcast.
type PacketHandler interface {
	OnMeshPacket(payload []byte)
}
