package main

import (
	"fmt"
	"strings"

	"github.com/rovyn/meshbridge/pkg/bridge"
)

// hubExecutor is the built-in console command set. The console itself only
// does line framing; this is the hub's own tiny command surface.
type hubExecutor struct {
	hub *bridge.Hub
}

func (e *hubExecutor) Execute(line string) string {
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "", "help":
		return "commands: help, clients, stats"
	case "clients":
		return e.listClients()
	case "stats":
		return e.stats()
	}
	return fmt.Sprintf("unknown command %q (try 'help')", line)
}

func (e *hubExecutor) listClients() string {
	clients := e.hub.ListClients()
	if len(clients) == 0 {
		return "no clients connected"
	}

	lines := make([]string, 0, len(clients))
	for _, c := range clients {
		lines = append(lines, fmt.Sprintf("client %d %s via %s: in=%d out=%d decodeErrors=%d",
			c.ClientId, c.RemoteAddr, c.Transport, c.FramesIn, c.FramesOut, c.DecodeErrors))
	}
	return strings.Join(lines, "\n")
}

func (e *hubExecutor) stats() string {
	stats := e.hub.Stats()
	return fmt.Sprintf("clients=%d fannedOut=%d injected=%d injectErrors=%d inboundDropped=%d",
		stats.Clients, stats.PacketsFannedOut, stats.FramesInjected, stats.InjectErrors, stats.InboundDropped)
}
