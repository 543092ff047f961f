package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"analysisops/internal/api"
	"analysisops/internal/config"
	"analysisops/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("ANALYSISOPS_CONFIG"), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, config.OSEnv())
	if err != nil {
		log.Fatal(err)
	}
	if cfg.API.Secret == "" {
		log.Fatal("api.secret (or ANALYSISOPS_API_SECRET) is required to serve the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.API.GinMode)
	tokenCfg := api.DefaultTokenConfig(cfg.API.Secret)
	tokenCfg.Expiry = cfg.API.TokenExpiry

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           api.NewRouter(api.Deps{Ops: svc, TokenConfig: tokenCfg}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.API.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
	if err := svc.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
