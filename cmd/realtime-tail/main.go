// Package main implements realtime-tail, a small CLI that joins one or more
// topics on a realtime endpoint and prints every matching event as a
// structured log line. Topics given as arguments override the configured
// ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/phxkit/realtime-client-go/realtime"
)

type config struct {
	URL       string            `mapstructure:"url"`
	Params    map[string]string `mapstructure:"params"`
	Topics    []string          `mapstructure:"topics"`
	Events    []string          `mapstructure:"events"`
	Heartbeat time.Duration     `mapstructure:"heartbeat"`
	Logging   struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func loadConfig(configPath string) (config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("realtime-tail")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/realtime")
	}

	viper.SetDefault("url", "ws://127.0.0.1:4000/socket/websocket")
	viper.SetDefault("topics", []string{"room:lobby"})
	viper.SetDefault("events", []string{"new_msg"})
	viper.SetDefault("heartbeat", "5s")
	viper.SetDefault("logging.level", "info")

	viper.SetEnvPrefix("REALTIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults and environment are enough unless a file was named.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if configPath != "" || !notFound {
			return config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg config
	if err := viper.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("c", "", "path to config file (default searches ./realtime-tail.yaml, /etc/realtime/realtime-tail.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "realtime-tail: %v\n", err)
		os.Exit(1)
	}
	if args := flag.Args(); len(args) > 0 {
		cfg.Topics = args
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	params := make(map[string]any, len(cfg.Params))
	for key, value := range cfg.Params {
		params[key] = value
	}

	socket := realtime.NewSocket(cfg.URL).
		SetParams(params).
		SetHeartbeatInterval(cfg.Heartbeat).
		SetLogger(logger)

	// State listeners must not call back into the socket, so re-joining after
	// a reconnect goes through a pulse consumed by its own goroutine.
	rejoin := make(chan struct{}, 1)
	socket.AddConnectionStateListener(realtime.ConnectionStateListenerFunc(func(state realtime.ConnectionState) {
		logger.Info("connection state changed", "state", state)
		if state == realtime.StateConnected {
			select {
			case rejoin <- struct{}{}:
			default:
			}
		}
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := socket.Connect(ctx); err != nil {
		logger.Error("connect failed", "url", cfg.URL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := socket.Disconnect(); err != nil {
			logger.Error("disconnect failed", "error", err)
		}
	}()

	channels := make([]*realtime.Channel, 0, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		channel, err := socket.Channel(topic)
		if err != nil {
			logger.Error("channel setup failed", "topic", topic, "error", err)
			os.Exit(1)
		}
		for _, event := range cfg.Events {
			channel.On(event, func(payload any) {
				logger.Info("event", "topic", channel.Topic(), "event", event, "payload", payload)
			})
		}
		channels = append(channels, channel)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rejoin:
				for _, channel := range channels {
					if err := channel.Join(); err != nil {
						logger.Warn("join failed", "topic", channel.Topic(), "error", err)
					}
				}
			}
		}
	}()

	logger.Info("tailing", "url", cfg.URL, "topics", cfg.Topics, "events", cfg.Events)
	if err := socket.Run(ctx); err != nil {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}
	logger.Info("realtime-tail stopped")
}
