package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/cliffyan/searx-front/internal/config"
	"github.com/cliffyan/searx-front/internal/searx"
	"github.com/cliffyan/searx-front/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("🔍 Starting searx-front...")

	cfg := config.Load()

	// Instance resolver shared by the page, the JSON API and MCP
	resolver := searx.NewResolver(cfg, nil)

	srv := server.New(cfg, resolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
	log.Println("👋 Server stopped")
}
