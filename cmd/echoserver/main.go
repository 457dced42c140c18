// Command echoserver runs a msgsock server with a handful of routed
// message handlers, configured from an optional TOML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zereker/msgsock"
)

// Message ids served by this process.
const (
	msgEcho uint32 = 1
	msgPing uint32 = 2
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "echoserver: %v\n", err)
			os.Exit(1)
		}
	}

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zl := zerolog.New(output).With().Timestamp().Str("app", "echoserver").Logger().Level(cfg.logLevel)
	logger := msgsock.NewZerologLogger(zl)

	router := msgsock.NewRouter()
	router.RegisterFunc(msgEcho, func(m msgsock.Message) msgsock.Message {
		return msgsock.NewMessage(m.ID(), m.Body())
	})
	router.RegisterFunc(msgPing, func(m msgsock.Message) msgsock.Message {
		return msgsock.NewMessage(msgPing, []byte("pong"))
	})

	addr, err := net.ResolveTCPAddr("tcp", cfg.addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoserver: resolve %s: %v\n", cfg.addr, err)
		os.Exit(1)
	}

	server, err := msgsock.New(addr, router,
		msgsock.ServerLoggerOption(logger),
		msgsock.ServerShutdownTimeoutOption(cfg.shutdownTimeout),
		msgsock.ServerConnOptions(
			msgsock.MessageMaxSize(cfg.maxMessageSize),
			msgsock.IdleTimeoutOption(cfg.idleTimeout),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoserver: %v\n", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down server...")
		cancel()
	}()

	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
