// Package server assembles the land runtime behind one HTTP surface: the
// WebSocket endpoint, the land admin API, health and metrics.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gmliao/landnet/internal/config"
	"github.com/gmliao/landnet/internal/land"
	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/internal/relay"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/health"
	"github.com/gmliao/landnet/pkg/json"
	"github.com/gmliao/landnet/pkg/redis"
)

// LandServer runs one process worth of lands.
type LandServer struct {
	cfg     *config.Config
	log     *zap.Logger
	types   *land.TypeRegistry
	ws      *transport.WebSocket
	manager *land.Manager
	router  *land.Router
	checker *health.Checker
	redisC  *redis.Client
	relay   *relay.Relay
}

// New wires the transport, manager and router for the registered land types.
func New(cfg *config.Config, log *zap.Logger, types *land.TypeRegistry) *LandServer {
	ws := transport.NewWebSocket(log, transport.WebSocketOptions{JWTSecret: cfg.JWTSecret})
	manager := land.NewManager(ws, log, land.ManagerOptions{
		Adapter: land.AdapterOptions{
			JoinTimeout:      cfg.JoinTimeout,
			EnableLegacyJoin: cfg.EnableLegacyJoin,
		},
		RemoveWhenEmpty: true,
	})
	router := land.NewRouter(manager, types, ws, log)

	s := &LandServer{
		cfg:     cfg,
		log:     log,
		types:   types,
		ws:      ws,
		manager: manager,
		router:  router,
		checker: health.NewChecker(),
	}
	s.checker.Register(health.CheckFunc{
		CheckName: "transport",
		Fn:        func(context.Context) error { return nil },
	})

	if cfg.RedisAddr() != "" {
		client, err := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			log.Warn("relay disabled, redis unreachable", zap.Error(err))
			return s
		}
		s.redisC = client
		s.relay = relay.New(client.Client, manager, log)
		s.checker.Register(health.CheckFunc{
			CheckName: "redis",
			Fn:        func(ctx context.Context) error { return client.IsAvailable(ctx) },
		})
	}
	return s
}

// Manager exposes the land manager, mainly for embedding and tests.
func (s *LandServer) Manager() *land.Manager { return s.manager }

// Run serves until the context is canceled, then shuts everything down.
func (s *LandServer) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         ":" + s.cfg.AppPort,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := metrics.NewServer(":" + s.cfg.MetricsPort)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if s.relay != nil {
		g.Go(func() error { return s.relay.Run(ctx) })
	}
	g.Go(func() error { return s.statsLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.ws.Stop(shutdownCtx); err != nil {
			s.log.Warn("transport shutdown", zap.Error(err))
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("metrics shutdown", zap.Error(err))
		}
		if s.redisC != nil {
			s.redisC.Close()
		}
		return nil
	})
	return g.Wait()
}

func (s *LandServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ws.Handler())
	mux.HandleFunc("/healthz", s.checker.Handler())
	mux.HandleFunc("/api/lands", s.handleLands)
	mux.HandleFunc("/api/lands/", s.handleLand)
	return mux
}

// handleLands lists the live lands.
func (s *LandServer) handleLands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]land.Stats, 0)
	for _, id := range s.manager.ListLands() {
		stats, err := s.manager.GetLandStats(id)
		if err != nil {
			continue
		}
		out = append(out, stats)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLand serves GET (stats) and DELETE (force-remove) for one land,
// addressed as /api/lands/{type}/{instance}.
func (s *LandServer) handleLand(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/lands/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "expected /api/lands/{type}/{instance}", http.StatusBadRequest)
		return
	}
	id := land.ID{Type: parts[0], Instance: parts[1]}

	switch r.Method {
	case http.MethodGet:
		stats, err := s.manager.GetLandStats(id)
		if err != nil {
			http.Error(w, "land not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case http.MethodDelete:
		if err := s.manager.RemoveLand(id); err != nil {
			http.Error(w, "land not found", http.StatusNotFound)
			return
		}
		s.log.Info("land removed via api", zap.String("land", id.String()))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// statsLoop logs an aggregate land summary once a minute.
func (s *LandServer) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lands := s.manager.ListLands()
			players := 0
			for _, id := range lands {
				if stats, err := s.manager.GetLandStats(id); err == nil {
					players += stats.PlayerCount
				}
			}
			s.log.Info("land summary",
				zap.Int("lands", len(lands)),
				zap.Int("players", players))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(data)
}
