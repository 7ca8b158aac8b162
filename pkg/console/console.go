// Package console implements the line-oriented remote control listener. It
// is fully independent of the frame bridge: its own port, its own
// connections, and no shared decode state - a malformed console line can
// never desynchronize frame parsing, or vice versa.
package console

import (
	"bufio"
	"context"
	goerrs "errors"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Executor runs one console command line and returns its textual reply. The
// command set belongs to whoever wires the executor in; the console only
// does line framing.
type Executor interface {
	Execute(line string) string
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(line string) string

func (f ExecutorFunc) Execute(line string) string {
	return f(line)
}

const prompt = "> "

type ConsoleServerParams struct {
	ListenAddress string

	Logger *zap.Logger
}

type consoleServer struct {
	params   ConsoleServerParams
	executor Executor
	log      *zap.Logger

	mut_listenerAddr sync.RWMutex
	listenerAddr     net.Addr
}

// Addr reports the bound listener address once Start has opened it; nil
// before that.
func (s *consoleServer) Addr() net.Addr {
	s.mut_listenerAddr.RLock()
	defer s.mut_listenerAddr.RUnlock()
	return s.listenerAddr
}

func CreateConsoleServer(executor Executor, params ConsoleServerParams) (*consoleServer, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &consoleServer{
		params:   params,
		executor: executor,
		log:      logger.With(zap.String("handler", "console")),
	}, nil
}

func (s *consoleServer) Start(ctx context.Context) error {
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

	s.log.Info("Starting console server", zap.String("addr", s.params.ListenAddress))

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if goerrs.Is(acceptErr, net.ErrClosed) {
				s.log.Info("Console listener closed - exiting accept loop")
				break
			}
			s.log.Error("Accept failed", zap.Error(acceptErr))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	wg.Wait()
	s.log.Info("All console connections finished. Exiting gracefully!")
	return nil
}

func (s *consoleServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.log.With(zap.String("remoteAddr", conn.RemoteAddr().String()))
	log.Info("New console session")

	// Close the socket when shutting down so the blocked read below returns.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if _, err := io.WriteString(conn, prompt); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if goerrs.Is(err, io.EOF) || goerrs.Is(err, net.ErrClosed) {
				log.Info("Console session ended")
			} else {
				log.Warn("Console read failed", zap.Error(err))
			}
			return
		}

		// Accept CRLF and bare LF alike; minimal clients get no say in
		// their line discipline.
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		log.Debug("Dispatching console command", zap.String("line", line))
		reply := s.executor.Execute(line)

		if _, err := io.WriteString(conn, reply+"\n"+prompt); err != nil {
			log.Warn("Console write failed", zap.Error(err))
			return
		}
	}
}
