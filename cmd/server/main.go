package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/auth47"
	"github.com/paynym-tools/auth47-server/internal/challenge"
	"github.com/paynym-tools/auth47-server/internal/config"
	"github.com/paynym-tools/auth47-server/internal/guestbook"
	"github.com/paynym-tools/auth47-server/internal/paynym"
	"github.com/paynym-tools/auth47-server/internal/server"
)

const sweepInterval = time.Minute

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Auth47 core ───────────────────────────────────────────────────────────
	store := challenge.NewStore()
	issuer := challenge.NewIssuer(store, challenge.QREncoder{}, cfg.CallbackURL(), log)
	verifier := auth47.NewVerifier(store, log)

	// ── Paynym directory client ───────────────────────────────────────────────
	directory := paynym.NewClient(cfg.Paynym.APIURL, cfg.Paynym.Token)

	// ── Background sweep ──────────────────────────────────────────────────────
	// Issuance sweeps opportunistically, but an idle server must reclaim
	// expired records too.
	go runSweeper(ctx, store, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		live, verified := store.Stats()
		messages, err := guestbook.Count(c.Request.Context(), rdb)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok": true,
			"challenges": gin.H{
				"live":     live,
				"verified": verified,
			},
			"messages": messages,
		})
	})

	api := r.Group("/api")
	server.NewHandler(issuer, verifier, store, rdb, log).Register(api)
	paynym.NewHandler(directory, rdb, log).Register(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// runSweeper periodically reclaims challenge records past their retention
// window, regardless of issuance traffic.
func runSweeper(ctx context.Context, store *challenge.Store, log *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Info("swept stale challenges", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
