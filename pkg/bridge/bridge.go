// Package bridge contains the hub that keeps any number of TCP peers
// synchronized with a single shared mesh packet stream. Mesh-originated
// packets fan out to every connected peer; peer-submitted frames funnel
// through one inbound queue into the mesh gateway.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rovyn/meshbridge/internal"
	"github.com/rovyn/meshbridge/pkg/errors"
	"github.com/rovyn/meshbridge/pkg/frame"
	"github.com/rovyn/meshbridge/pkg/gateway"
	"github.com/rovyn/meshbridge/pkg/meshpacket"
	"go.uber.org/zap"
)

const DefaultMaxClients = 4

type clientChannels struct {
	outgoingFrames chan []byte

	closeOnce    sync.Once
	closeRequest chan struct{}
}

// requestClose is idempotent: the fan-out path, the idle sweep, and the
// connection's own error handling may all ask for the same removal.
func (c *clientChannels) requestClose() {
	c.closeOnce.Do(func() {
		close(c.closeRequest)
	})
}

type HubConfig struct {
	MaxClients  int
	IdleTimeout time.Duration

	OutgoingFrameBufferLength int
	InboundFrameBufferLength  int

	Logger *zap.Logger
}

type Hub struct {
	log *zap.Logger

	store       *internal.ClientStore
	gateway     gateway.Gateway
	idleTimeout time.Duration
	startTime   time.Time

	outgoingFrameBufferLength int

	inboundFrameSendChannel chan<- InboundFrame
	inboundFrameRecvChannel <-chan InboundFrame

	mut_clients sync.RWMutex
	clients     map[uint32]*clientChannels

	packetsFannedOut atomic.Uint64
	framesInjected   atomic.Uint64
	injectErrors     atomic.Uint64
	inboundDropped   atomic.Uint64
}

func CreateHub(gw gateway.Gateway, config HubConfig) *Hub {
	logger := config.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	maxClients := DefaultMaxClients
	if config.MaxClients > 0 {
		maxClients = config.MaxClients
	}

	inboundFrameBufferLength := 256
	if config.InboundFrameBufferLength > 0 {
		inboundFrameBufferLength = config.InboundFrameBufferLength
	}
	outgoingFrameBufferLength := 64
	if config.OutgoingFrameBufferLength > 0 {
		outgoingFrameBufferLength = config.OutgoingFrameBufferLength
	}

	inboundFrames := make(chan InboundFrame, inboundFrameBufferLength)

	return &Hub{
		log: logger.With(zap.String("component", "bridgeHub")),

		store:       internal.CreateClientStore(maxClients),
		gateway:     gw,
		idleTimeout: config.IdleTimeout,
		startTime:   time.Now(),

		outgoingFrameBufferLength: outgoingFrameBufferLength,

		inboundFrameSendChannel: inboundFrames,
		inboundFrameRecvChannel: inboundFrames,

		clients: make(map[uint32]*clientChannels),
	}
}

func (h *Hub) getNowTime() int64 {
	return time.Since(h.startTime).Microseconds()
}

// Register admits a new peer, or refuses it with a
// *errors.ConnectionCapacityExceeded before any per-peer resources exist.
// Only this method and Unregister mutate the client set.
func (h *Hub) Register(remoteAddr, transport string) (*Registration, error) {
	clientId := h.store.GetNewClientId()
	if err := h.store.CreateClient(clientId, remoteAddr, transport, h.getNowTime()); err != nil {
		return nil, err
	}

	channels := &clientChannels{
		outgoingFrames: make(chan []byte, h.outgoingFrameBufferLength),
		closeRequest:   make(chan struct{}),
	}

	h.mut_clients.Lock()
	h.clients[clientId] = channels
	h.mut_clients.Unlock()

	h.log.Info("Registered bridge client",
		zap.Uint32("clientId", clientId),
		zap.String("remoteAddr", remoteAddr),
		zap.String("transport", transport),
		zap.Int("clientCount", h.store.Count()))

	return &Registration{
		ClientId:       clientId,
		OutgoingFrames: channels.outgoingFrames,
		CloseRequested: channels.closeRequest,
	}, nil
}

// Unregister removes a peer from the client set. Fan-out iterations already
// in flight finish against their own snapshot, so removal never corrupts a
// concurrent delivery pass.
func (h *Hub) Unregister(clientId uint32) {
	h.mut_clients.Lock()
	channels, has := h.clients[clientId]
	delete(h.clients, clientId)
	h.mut_clients.Unlock()

	if !has {
		return
	}
	channels.requestClose()

	h.store.RemoveClient(clientId)
	h.log.Info("Unregistered bridge client",
		zap.Uint32("clientId", clientId),
		zap.Int("clientCount", h.store.Count()))
}

// OnMeshPacket broadcasts one mesh-originated packet to every connected
// peer. Delivery is all-attempted: a slow or dead peer gets marked for
// removal instead of stalling the others. Safe to call concurrently with
// Register/Unregister.
func (h *Hub) OnMeshPacket(payload []byte) {
	encoded, err := frame.Encode(payload)
	if err != nil {
		h.log.Error("Refusing to fan out unencodable mesh packet", zap.Int("size", len(payload)), zap.Error(err))
		return
	}

	if header, ok := meshpacket.ParseHeader(payload); ok {
		h.log.Debug("Fanning out mesh packet",
			zap.Stringer("header", header),
			zap.Int("size", len(payload)),
			zap.Int("clientCount", h.ClientCount()))
	}

	type fanoutTarget struct {
		clientId uint32
		channels *clientChannels
	}

	h.mut_clients.RLock()
	targets := make([]fanoutTarget, 0, len(h.clients))
	for clientId, channels := range h.clients {
		targets = append(targets, fanoutTarget{clientId: clientId, channels: channels})
	}
	h.mut_clients.RUnlock()

	for _, target := range targets {
		select {
		case target.channels.outgoingFrames <- encoded:
		default:
			// Peer is not draining its queue. Drop the peer, not the
			// fan-out.
			h.log.Warn("Client send queue full, requesting disconnect", zap.Uint32("clientId", target.clientId))
			target.channels.requestClose()
		}
	}

	h.packetsFannedOut.Add(1)
}

// SubmitFrame queues one validated client frame for injection. Frames from a
// single client arrive here from that client's read goroutine, so per-client
// submission order is preserved through the channel.
func (h *Hub) SubmitFrame(clientId uint32, payload []byte) {
	inbound := InboundFrame{
		ClientId: clientId,
		Payload:  payload,
		RecvTime: h.getNowTime(),
	}

	select {
	case h.inboundFrameSendChannel <- inbound:
		h.store.RecordFrameIn(clientId, inbound.RecvTime)
	default:
		h.inboundDropped.Add(1)
		h.log.Warn("Inbound frame queue full, dropping frame", zap.Uint32("clientId", clientId), zap.Int("size", len(payload)))
	}
}

// RecordFrameDelivered and RecordDecodeError keep per-client counters for
// the console's diagnostics; they never affect control flow.
func (h *Hub) RecordFrameDelivered(clientId uint32) {
	h.store.RecordFrameOut(clientId)
}

func (h *Hub) RecordDecodeError(clientId uint32) {
	h.store.RecordDecodeError(clientId)
}

// Start runs the inbound injection pump and, when an idle timeout is
// configured, the idle sweep. Blocks until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.log.Info("Stopping inbound injection pump")
				return
			case inbound := <-h.inboundFrameRecvChannel:
				h.injectFrame(inbound)
			}
		}
	}()

	if h.idleTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.idleTimeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.sweepIdleClients()
				}
			}
		}()
	}

	wg.Wait()
}

func (h *Hub) injectFrame(inbound InboundFrame) {
	if err := h.gateway.Inject(inbound.Payload); err != nil {
		h.injectErrors.Add(1)
		rejection := &errors.InjectionRejected{ClientId: inbound.ClientId, Cause: err}
		// Dropped, never requeued: duplicate injection is worse than a lost
		// frame at the radio layer.
		h.log.Warn("Mesh gateway rejected frame", zap.Error(rejection))
		return
	}

	h.framesInjected.Add(1)

	if header, ok := meshpacket.ParseHeader(inbound.Payload); ok {
		h.log.Debug("Injected client frame into mesh",
			zap.Uint32("clientId", inbound.ClientId),
			zap.Stringer("header", header),
			zap.Int("size", len(inbound.Payload)))
	}
}

func (h *Hub) sweepIdleClients() {
	deadline := h.getNowTime() - h.idleTimeout.Microseconds()

	for _, clientId := range h.store.GetIdleClientList(deadline) {
		h.mut_clients.RLock()
		channels, has := h.clients[clientId]
		h.mut_clients.RUnlock()

		if has {
			h.log.Info("Disconnecting idle client", zap.Uint32("clientId", clientId))
			channels.requestClose()
		}
	}
}

func (h *Hub) ClientCount() int {
	return h.store.Count()
}

func (h *Hub) ListClients() []internal.ClientInfo {
	return h.store.ListClients()
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:          h.store.Count(),
		PacketsFannedOut: h.packetsFannedOut.Load(),
		FramesInjected:   h.framesInjected.Load(),
		InjectErrors:     h.injectErrors.Load(),
		InboundDropped:   h.inboundDropped.Load(),
	}
}
