package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// Loopback is an in-process gateway that re-emits every injected payload back
// to the packet handler. It stands in for the real mesh stack when the hub
// runs standalone, and gives tests a deterministic gateway.
type Loopback struct {
	log *zap.Logger

	mut     sync.RWMutex
	handler PacketHandler
}

func NewLoopback(logger *zap.Logger) *Loopback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loopback{log: logger.With(zap.String("gateway", "loopback"))}
}

// SetPacketHandler attaches the receiver for re-emitted packets. Injections
// before a handler is attached are dropped.
func (l *Loopback) SetPacketHandler(handler PacketHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handler = handler
}

func (l *Loopback) Inject(payload []byte) error {
	l.mut.RLock()
	handler := l.handler
	l.mut.RUnlock()

	if handler == nil {
		l.log.Warn("Dropping injected packet, no packet handler attached", zap.Int("size", len(payload)))
		return nil
	}

	l.log.Debug("Re-emitting injected packet", zap.Int("size", len(payload)))
	handler.OnMeshPacket(payload)
	return nil
}
