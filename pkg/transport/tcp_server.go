// Package transport holds the listeners that feed peers into the bridge hub:
// a raw TCP server speaking the binary frame protocol, and an optional
// WebSocket server carrying the same frames in binary messages.
package transport

import (
	"context"
	goerrs "errors"
	"net"
	"sync"

	"github.com/rovyn/meshbridge/pkg/bridge"
	"go.uber.org/zap"
)

type TcpServerParams struct {
	ListenAddress string

	Logger *zap.Logger
}

type tcpFrameServer struct {
	params TcpServerParams
	hub    *bridge.Hub
	log    *zap.Logger

	mut_listenerAddr sync.RWMutex
	listenerAddr     net.Addr
}

// Addr reports the bound listener address once Start has opened it; nil
// before that. Useful when listening on an ephemeral port.
func (s *tcpFrameServer) Addr() net.Addr {
	s.mut_listenerAddr.RLock()
	defer s.mut_listenerAddr.RUnlock()
	return s.listenerAddr
}

func CreateTcpServer(hub *bridge.Hub, params TcpServerParams) (*tcpFrameServer, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &tcpFrameServer{
		params: params,
		hub:    hub,
		log:    logger.With(zap.String("handler", "tcpBridge")),
	}, nil
}

// Start runs the accept loop until ctx is cancelled. Connections beyond the
// hub's capacity are closed immediately, before any protocol exchange.
func (s *tcpFrameServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.params.ListenAddress)
	if err != nil {
		return err
	}

	s.mut_listenerAddr.Lock()
	s.listenerAddr = listener.Addr()
	s.mut_listenerAddr.Unlock()

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info("Starting TCP bridge server", zap.String("addr", s.params.ListenAddress))

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if goerrs.Is(acceptErr, net.ErrClosed) {
				s.log.Info("TCP bridge listener closed - exiting accept loop")
				break
			}
			s.log.Error("Accept failed", zap.Error(acceptErr))
			continue
		}

		reg, regErr := s.hub.Register(conn.RemoteAddr().String(), "tcp")
		if regErr != nil {
			s.log.Warn("Rejecting connection", zap.String("remoteAddr", conn.RemoteAddr().String()), zap.Error(regErr))
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.NewClientConn(conn, reg, s.hub, s.log).Run(ctx)
		}()
	}

	wg.Wait()
	s.log.Info("All TCP bridge connections finished. Exiting gracefully!")
	return nil
}
