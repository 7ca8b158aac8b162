package bridge

import (
	"context"
	goerrs "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rovyn/meshbridge/pkg/frame"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 5 * time.Second

// ClientConn owns one peer socket's read and write paths. The read goroutine
// feeds every byte through this connection's private frame decoder - decode
// state is never shared and dies with the connection. Protocol errors
// (garbage, checksum mismatches) are counted and logged but never terminate
// the session; the underlying link may be noisy local tooling and one bad
// frame must not cost an otherwise-good peer its connection.
type ClientConn struct {
	conn net.Conn
	hub  *Hub
	reg  *Registration
	log  *zap.Logger

	writeTimeout time.Duration

	decoder frame.Decoder
}

func NewClientConn(conn net.Conn, reg *Registration, hub *Hub, logger *zap.Logger) *ClientConn {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &ClientConn{
		conn:         conn,
		hub:          hub,
		reg:          reg,
		log:          logger.With(zap.Uint32("clientId", reg.ClientId), zap.String("remoteAddr", conn.RemoteAddr().String())),
		writeTimeout: defaultWriteTimeout,
	}
}

// Run services the connection until the peer disconnects, the hub requests
// removal, or ctx is cancelled. It always leaves the client unregistered and
// the socket closed.
func (c *ClientConn) Run(ctx context.Context) {
	defer c.hub.Unregister(c.reg.ClientId)
	defer c.conn.Close()

	wg := sync.WaitGroup{}

	//
	// Frame delivery goroutine: drains the hub's outgoing queue into the
	// socket. A write failure abandons the connection; closing the socket
	// also unblocks the read loop below.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.reg.CloseRequested:
				c.log.Info("Hub requested connection close")
				return
			case encoded := <-c.reg.OutgoingFrames:
				c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				if _, err := c.conn.Write(encoded); err != nil {
					c.log.Warn("Write failed, abandoning connection", zap.Error(err))
					return
				}
				c.hub.RecordFrameDelivered(c.reg.ClientId)
			}
		}
	}()

	//
	// Read loop: whatever segmentation TCP delivers, every byte goes
	// through the incremental decoder exactly once.
	var buf [4096]byte
	for {
		bytesRead, err := c.conn.Read(buf[:])
		if err != nil {
			if goerrs.Is(err, io.EOF) || goerrs.Is(err, net.ErrClosed) {
				c.log.Info("Client disconnected")
			} else {
				c.log.Warn("Read failed, abandoning connection", zap.Error(err))
			}
			break
		}

		for _, b := range buf[:bytesRead] {
			payload, decodeErr := c.decoder.Feed(b)
			if decodeErr != nil {
				c.hub.RecordDecodeError(c.reg.ClientId)
				c.log.Warn("Discarding malformed frame", zap.Error(decodeErr))
				continue
			}
			if payload != nil {
				c.hub.SubmitFrame(c.reg.ClientId, payload)
			}
		}
	}

	// Wake the delivery goroutine if it is parked on the select.
	c.hub.Unregister(c.reg.ClientId)
	wg.Wait()
}
