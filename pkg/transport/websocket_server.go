package transport

import (
	"context"
	goerrs "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rovyn/meshbridge/pkg/bridge"
	"github.com/rovyn/meshbridge/pkg/frame"
	"go.uber.org/zap"
)

type WebsocketServerParams struct {
	ListenAddress  string
	ListenEndpoint string
	AllowAllHosts  bool

	Logger *zap.Logger
}

// websocketFrameServer carries the bridge frame protocol over WebSocket
// binary messages for peers that cannot open raw TCP sockets (browsers,
// proxied tooling). Message bytes run through the same incremental decoder
// as the TCP path, so a peer may pack one frame per message or stream
// arbitrary chunks; outbound frames always go one per message.
type websocketFrameServer struct {
	upgrader *websocket.Upgrader
	params   WebsocketServerParams
	hub      *bridge.Hub
	log      *zap.Logger
}

func CreateWebsocketServer(hub *bridge.Hub, params WebsocketServerParams) (*websocketFrameServer, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &websocketFrameServer{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return params.AllowAllHosts
			},
		},
		params: params,
		hub:    hub,
		log:    logger.With(zap.String("handler", "wsBridge")),
	}, nil
}

func (s *websocketFrameServer) onWsRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	defer c.Close()

	reg, regErr := s.hub.Register(r.RemoteAddr, "websocket")
	if regErr != nil {
		s.log.Warn("Rejecting WebSocket connection", zap.String("remoteAddr", r.RemoteAddr), zap.Error(regErr))
		return
	}
	defer s.hub.Unregister(reg.ClientId)

	log := s.log.With(zap.Uint32("clientId", reg.ClientId), zap.String("remoteAddr", r.RemoteAddr))
	log.Info("New WebSocket bridge peer")

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-reg.CloseRequested:
				log.Info("Hub requested connection close")
				return
			case encoded := <-reg.OutgoingFrames:
				c.SetWriteDeadline(time.Now().Add(defaultWsWriteTimeout))
				if writeErr := c.WriteMessage(websocket.BinaryMessage, encoded); writeErr != nil {
					log.Warn("Write failed, abandoning connection", zap.Error(writeErr))
					return
				}
				s.hub.RecordFrameDelivered(reg.ClientId)
			}
		}
	}()

	decoder := frame.Decoder{}
	for {
		msgType, payload, msgErr := c.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Info("WebSocket peer disconnected")
			} else {
				log.Warn("Read failed, abandoning connection", zap.Error(msgErr))
			}
			break
		}

		if msgType != websocket.BinaryMessage {
			log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		for _, b := range payload {
			framePayload, decodeErr := decoder.Feed(b)
			if decodeErr != nil {
				s.hub.RecordDecodeError(reg.ClientId)
				log.Warn("Discarding malformed frame", zap.Error(decodeErr))
				continue
			}
			if framePayload != nil {
				s.hub.SubmitFrame(reg.ClientId, framePayload)
			}
		}
	}

	s.hub.Unregister(reg.ClientId)
	wg.Wait()
}

const defaultWsWriteTimeout = 5 * time.Second

func (s *websocketFrameServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.params.ListenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		s.onWsRequest(ctx, w, r)
	})

	server := &http.Server{
		Addr:    s.params.ListenAddress,
		Handler: mux,
	}

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.Info("Starting WebSocket bridge server", zap.String("addr", s.params.ListenAddress), zap.String("endpoint", s.params.ListenEndpoint))
		if err := server.ListenAndServe(); !goerrs.Is(err, http.ErrServerClosed) {
			s.log.Error("Unexpected WebSocket server close!", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
			return
		}
		s.log.Info("Successfully shutdown WebSocket server")
	}()

	wg.Wait()
	return nil
}
