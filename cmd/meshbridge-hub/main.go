// Main package for the mesh bridge hub: binary frame bridge + remote
// console, with a loopback gateway standing in for the mesh stack until a
// real radio transport is attached.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rovyn/meshbridge/pkg/bridge"
	"github.com/rovyn/meshbridge/pkg/config"
	"github.com/rovyn/meshbridge/pkg/console"
	"github.com/rovyn/meshbridge/pkg/gateway"
	"github.com/rovyn/meshbridge/pkg/observability"
	"github.com/rovyn/meshbridge/pkg/transport"
	"go.uber.org/zap"
)

func main() {
	//
	// Flags
	configPath := flag.String("config", "meshbridge.toml", "Path to the TOML config file")
	bridgeAddr := flag.String("bridge-addr", "", "Override the bridge listen address")
	consoleAddr := flag.String("console-addr", "", "Override the console listen address")
	maxClients := flag.Int("max-clients", 0, "Override the maximum number of bridge clients")
	useWebsocket := flag.Bool("websocket", false, "Enable the WebSocket bridge listener")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		zap.Must(zap.NewDevelopment()).Fatal("Failed to load config", zap.Error(cfgErr))
	}

	if *bridgeAddr != "" {
		cfg.Bridge.ListenAddress = *bridgeAddr
	}
	if *consoleAddr != "" {
		cfg.Console.ListenAddress = *consoleAddr
	}
	if *maxClients > 0 {
		cfg.Bridge.MaxClients = *maxClients
	}
	if *useWebsocket {
		cfg.Bridge.EnableWebsocket = true
	}

	logger := observability.SetupLogger(cfg.Log)
	defer logger.Sync()

	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer shutdownRelease()

	//
	// Gateway + hub setup. The loopback gateway re-emits injected packets;
	// swap in the real radio/serial gateway here when one exists.
	loopback := gateway.NewLoopback(logger)
	hub := bridge.CreateHub(loopback, bridge.HubConfig{
		MaxClients:  cfg.Bridge.MaxClients,
		IdleTimeout: cfg.IdleTimeout(),
		Logger:      logger,
	})
	loopback.SetPacketHandler(hub)

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Start(shutdownCtx)
	}()

	tcpServer, tcpErr := transport.CreateTcpServer(hub, transport.TcpServerParams{
		ListenAddress: cfg.Bridge.ListenAddress,
		Logger:        logger,
	})
	if tcpErr != nil {
		logger.Fatal("Failed to create TCP bridge server", zap.Error(tcpErr))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpServer.Start(shutdownCtx); err != nil {
			logger.Error("TCP bridge server exited with error", zap.Error(err))
			shutdownRelease()
		}
	}()

	if cfg.Bridge.EnableWebsocket {
		wsServer, wsErr := transport.CreateWebsocketServer(hub, transport.WebsocketServerParams{
			ListenAddress:  cfg.Bridge.WebsocketAddress,
			ListenEndpoint: cfg.Bridge.WebsocketEndpoint,
			AllowAllHosts:  true,
			Logger:         logger,
		})
		if wsErr != nil {
			logger.Fatal("Failed to create WebSocket bridge server", zap.Error(wsErr))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wsServer.Start(shutdownCtx); err != nil {
				logger.Error("WebSocket bridge server exited with error", zap.Error(err))
				shutdownRelease()
			}
		}()
	}

	if cfg.Console.Enable {
		consoleServer, consoleErr := console.CreateConsoleServer(&hubExecutor{hub: hub}, console.ConsoleServerParams{
			ListenAddress: cfg.Console.ListenAddress,
			Logger:        logger,
		})
		if consoleErr != nil {
			logger.Fatal("Failed to create console server", zap.Error(consoleErr))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consoleServer.Start(shutdownCtx); err != nil {
				logger.Error("Console server exited with error", zap.Error(err))
				shutdownRelease()
			}
		}()
	}

	wg.Wait()
	logger.Info("Mesh bridge hub shut down")
}
