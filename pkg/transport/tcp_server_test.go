package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rovyn/meshbridge/pkg/bridge"
	"github.com/rovyn/meshbridge/pkg/frame"
	"go.uber.org/zap"
)

type recordingGateway struct {
	mut      sync.Mutex
	injected [][]byte
}

func (g *recordingGateway) Inject(payload []byte) error {
	g.mut.Lock()
	defer g.mut.Unlock()
	g.injected = append(g.injected, append([]byte(nil), payload...))
	return nil
}

func (g *recordingGateway) injectedPayloads() [][]byte {
	g.mut.Lock()
	defer g.mut.Unlock()
	out := make([][]byte, len(g.injected))
	copy(out, g.injected)
	return out
}

// startTestServer brings up a hub and TCP bridge server on an ephemeral port
// and returns the dialable address.
func startTestServer(t *testing.T, gw *recordingGateway, maxClients int) (*bridge.Hub, string, context.CancelFunc) {
	t.Helper()

	hub := bridge.CreateHub(gw, bridge.HubConfig{
		MaxClients: maxClients,
		Logger:     zap.NewNop(),
	})

	server, err := CreateTcpServer(hub, TcpServerParams{
		ListenAddress: "127.0.0.1:0",
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("CreateTcpServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)
	go server.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server never bound its listener")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(cancel)
	return hub, server.Addr().String(), cancel
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClientCount(t *testing.T, hub *bridge.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count stuck at %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFullFrame(t *testing.T, conn net.Conn, payloadLen int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4+payloadLen+2+1)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return buf
}

func TestEndToEndInjectOnceNoEcho(t *testing.T) {
	gw := &recordingGateway{}
	hub, addr, _ := startTestServer(t, gw, 4)

	sender := dial(t, addr)
	observer := dial(t, addr)
	waitForClientCount(t, hub, 2)

	// C0 3E 00 05 'HELLO' 4B 75 0A, built by hand to pin the wire format.
	wire := []byte{0xC0, 0x3E, 0x00, 0x05, 'H', 'E', 'L', 'L', 'O', 0x4B, 0x75, 0x0A}
	if _, err := sender.Write(wire); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.injectedPayloads()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("payload never injected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	injected := gw.injectedPayloads()
	if len(injected) != 1 || !bytes.Equal(injected[0], []byte("HELLO")) {
		t.Fatalf("injected = %v, want exactly one \"HELLO\"", injected)
	}

	// Client-submitted frames are not broadcast back out.
	observer.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	oneByte := make([]byte, 1)
	if _, err := observer.Read(oneByte); err == nil {
		t.Fatal("observer received echoed bytes, want silence")
	}
}

func TestEndToEndFanOut(t *testing.T) {
	gw := &recordingGateway{}
	hub, addr, _ := startTestServer(t, gw, 4)

	first := dial(t, addr)
	second := dial(t, addr)
	waitForClientCount(t, hub, 2)

	payload := []byte{0x15, 0x00, 0x01, 0x02, 0x03}
	hub.OnMeshPacket(payload)

	want, _ := frame.Encode(payload)
	for i, conn := range []net.Conn{first, second} {
		got := readFullFrame(t, conn, len(payload))
		if !bytes.Equal(got, want) {
			t.Errorf("client %d received % X, want % X", i, got, want)
		}
	}
}

func TestEndToEndCapacityRejection(t *testing.T) {
	gw := &recordingGateway{}
	hub, addr, _ := startTestServer(t, gw, 2)

	first := dial(t, addr)
	second := dial(t, addr)
	waitForClientCount(t, hub, 2)

	// The third peer is closed immediately with no handshake: the first
	// read reports EOF.
	third := dial(t, addr)
	third.SetReadDeadline(time.Now().Add(2 * time.Second))
	oneByte := make([]byte, 1)
	if _, err := third.Read(oneByte); err != io.EOF {
		t.Fatalf("over-capacity peer read = %v, want io.EOF", err)
	}

	// The original peers still get fan-out.
	payload := []byte("unbothered")
	hub.OnMeshPacket(payload)
	want, _ := frame.Encode(payload)
	for i, conn := range []net.Conn{first, second} {
		got := readFullFrame(t, conn, len(payload))
		if !bytes.Equal(got, want) {
			t.Errorf("client %d received % X, want % X", i, got, want)
		}
	}
}

func TestEndToEndMalformedFrameKeepsSessionAlive(t *testing.T) {
	gw := &recordingGateway{}
	hub, addr, _ := startTestServer(t, gw, 4)

	conn := dial(t, addr)
	waitForClientCount(t, hub, 1)

	bad, _ := frame.Encode([]byte("corrupt me"))
	bad[5] ^= 0xFF
	good, _ := frame.Encode([]byte("good"))

	if _, err := conn.Write(append(bad, good...)); err != nil {
		t.Fatalf("writing frames: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.injectedPayloads()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame after corruption never injected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	injected := gw.injectedPayloads()
	if len(injected) != 1 || !bytes.Equal(injected[0], []byte("good")) {
		t.Fatalf("injected = %v, want exactly one \"good\"", injected)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("session closed by a malformed frame, client count = %d", hub.ClientCount())
	}
}

func TestDisconnectFreesCapacity(t *testing.T) {
	gw := &recordingGateway{}
	hub, addr, _ := startTestServer(t, gw, 1)

	conn := dial(t, addr)
	waitForClientCount(t, hub, 1)
	conn.Close()
	waitForClientCount(t, hub, 0)

	replacement := dial(t, addr)
	waitForClientCount(t, hub, 1)

	payload := []byte("fresh start")
	hub.OnMeshPacket(payload)
	want, _ := frame.Encode(payload)
	if got := readFullFrame(t, replacement, len(payload)); !bytes.Equal(got, want) {
		t.Errorf("replacement client received % X, want % X", got, want)
	}
}
