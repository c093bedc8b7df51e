package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-gamenet/config"
	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/metrics"
	"github.com/cyberinferno/go-gamenet/presence"
	"github.com/cyberinferno/go-gamenet/protocol"
	"github.com/cyberinferno/go-gamenet/server"
	"github.com/cyberinferno/go-gamenet/taskqueue"
)

const (
	opEcho byte = 0x01
	opPing byte = 0x02
)

// player is the application user bound to every session.
type player struct {
	log logger.Logger
}

func (p *player) OnSessionAttached(s *server.Session) {
	p.log.Info("player attached", logger.Field{Key: "ip", Value: s.RemoteIP()})
}

func (p *player) OnDisconnected() {
	p.log.Info("player left")
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file; defaults are used when empty")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Close() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", logger.Err(err))
		_ = log.Close()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Logging.Dir != "" {
		return logger.NewZerologFileLogger(cfg.Server.Name, cfg.Logging.Dir, level)
	}

	return logger.NewStdoutLogger(cfg.Server.Name, level), nil
}

func newPresence(cfg config.PresenceConfig, log logger.Logger) (presence.Directory, func(), error) {
	switch cfg.Backend {
	case config.PresenceMemory:
		return presence.NewMemoryDirectory(time.Minute), func() {}, nil
	case config.PresenceRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddress, err)
		}

		log.Info("presence backed by redis", logger.Field{Key: "address", Value: cfg.RedisAddress})
		return presence.NewRedisDirectory(client, cfg.KeyPrefix), func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func startMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Err(err))
		}
	}()

	log.Info("metrics endpoint listening",
		logger.Field{Key: "address", Value: cfg.Address},
		logger.Field{Key: "path", Value: cfg.Path},
	)

	return srv
}

func run(cfg *config.Config, log logger.Logger) error {
	opts := []server.Option{}

	runner := taskqueue.NewRunner(log)
	defer runner.Close()
	opts = append(opts, server.WithTaskRunner(runner))

	dir, closePresence, err := newPresence(cfg.Presence, log)
	if err != nil {
		return err
	}
	defer closePresence()

	if dir != nil {
		opts = append(opts, server.WithPresence(dir))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, server.WithMetrics(metrics.New(reg)))
		metricsServer = startMetrics(cfg.Metrics, reg, log)
	}

	opts = append(opts, server.WithConnectHook(func(s *server.Session) {
		s.SetUser(&player{log: log.With(logger.Field{Key: "token", Value: s.Token()})})
	}))

	srvCfg := server.Config{
		Name:             cfg.Server.Name,
		TCPAddress:       cfg.Server.TCPAddress,
		UDPAddress:       cfg.Server.UDPAddress,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		UDPBufferSize:    cfg.Server.UDPBufferSize,
		UDPIDAttempts:    cfg.Server.UDPIDAttempts,
		UDPLane:          cfg.Server.UDPLane,
		PresenceTTL:      cfg.Presence.TTL,
	}

	srv := server.NewServer(srvCfg, log, opts...)

	srv.RegisterOpcode(opEcho, func(s *server.Session, msg protocol.Message) error {
		return s.Send(opEcho, msg.Payload(), msg.Transport())
	})

	srv.RegisterOpcode(opPing, func(s *server.Session, msg protocol.Message) error {
		return s.SendText(opPing, "pong", msg.Transport())
	})

	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("shutting down", logger.Field{Key: "signal", Value: sig.String()})

	srv.Stop(true)
	srv.Wait()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown failed", logger.Err(err))
		}
	}

	return nil
}
