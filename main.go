package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/chatroom/internal/config"
	"github.com/xiaot623/gogo/chatroom/internal/export"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
	"github.com/xiaot623/gogo/chatroom/internal/service"
	internalhttp "github.com/xiaot623/gogo/chatroom/internal/transport/http"
	"github.com/xiaot623/gogo/chatroom/internal/transport/rpc"
	"github.com/xiaot623/gogo/chatroom/internal/ws"
	"github.com/xiaot623/gogo/chatroom/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := observability.Setup(os.Stdout, cfg.LogLevel)

	log.Info("starting chat server",
		"http_port", cfg.HTTPPort,
		"rpc_port", cfg.RPCPort,
		"storage", cfg.StorageBackend,
		"data_dir", cfg.DataDir,
	)

	// Initialize store
	store, err := repository.Open(cfg.StorageBackend, cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	// Initialize service
	svc, err := service.New(ctx, store, hub.NewHub(), policyEngine, cfg)
	if err != nil {
		log.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if has, err := svc.Access.HasAdminPassword(ctx); err == nil && !has {
		log.Warn("no admin password stored; set ADMIN_PASSWORD to enable admin login")
	}

	exporter := export.NewExporter(svc, cfg.ExportDir)
	wsServer := ws.NewServer(cfg, svc)
	httpServer := internalhttp.NewServer(svc, wsServer, exporter, cfg.AllowedOrigins)

	// Start HTTP server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("HTTP server started", "port", cfg.HTTPPort)

	// Start RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc, exporter)
		if err != nil {
			log.Error("failed to initialize RPC server", "error", err)
			os.Exit(1)
		}
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Error("failed to start RPC server", "error", err)
				os.Exit(1)
			}
		}()
		log.Info("RPC server started", "port", cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down chat server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown HTTP server gracefully", "error", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shutdown RPC server gracefully", "error", err)
		}
	}

	log.Info("chat server stopped")
}
