// Package main is the entry point for the landnet server. It loads the
// environment configuration, registers the built-in land types, and serves
// WebSocket sessions until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/config"
	"github.com/gmliao/landnet/internal/land"
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/server"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/di"
	"github.com/gmliao/landnet/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() {
		if err := log.Sync(); err != nil {
			log.Warn("Failed to sync logger", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := di.New()
	if err := container.Register((*config.Config)(nil), func(_ *di.Container) (interface{}, error) {
		return cfg, nil
	}); err != nil {
		log.Warn("register config in container", zap.Error(err))
	}
	if err := container.Register((*zap.Logger)(nil), func(_ *di.Container) (interface{}, error) {
		return log, nil
	}); err != nil {
		log.Warn("register logger in container", zap.Error(err))
	}

	types := land.NewTypeRegistry()
	types.Register(lobbyDefinition())

	srv := server.New(cfg, log, types)
	log.Info("starting landnet",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
		zap.Strings("landTypes", types.Types()))
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

// lobbyDefinition is the built-in demo land: a presence roster plus a shared
// chat counter, enough to exercise joins, diffs and broadcast events.
func lobbyDefinition() *land.Definition {
	return &land.Definition{
		LandType: "lobby",
		InitialState: func() map[string]interface{} {
			return map[string]interface{}{
				"players":  map[string]interface{}{},
				"messages": int64(0),
			}
		},
		OnJoin: []land.JoinRule{
			func(st map[string]interface{}, ctx *land.Context) error {
				players := st["players"].(map[string]interface{})
				players[string(ctx.PlayerID)] = map[string]interface{}{"online": true}
				return nil
			},
		},
		OnLeave: []land.LeaveRule{
			func(st map[string]interface{}, ctx *land.Context) error {
				players := st["players"].(map[string]interface{})
				delete(players, string(ctx.PlayerID))
				return nil
			},
		},
		Rules: map[string][]land.EventRule{
			"chat": {
				func(st map[string]interface{}, ev *protocol.Event, ctx *land.Context) error {
					st["messages"] = st["messages"].(int64) + 1
					ctx.Emit("chat", map[string]interface{}{
						"from": string(ctx.PlayerID),
						"text": ev.Payload["text"],
					}, transport.Broadcast())
					return nil
				},
			},
		},
	}
}
