// Command mcp-gateway serves the MCP gateway in front of the storefront API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/aegis/config"
	"github.com/hupe1980/aegis/gateway"
)

func main() {
	configPath := flag.String("config", "", "path to aegis.toml")
	addrFlag := flag.String("addr", "", "listen address override")
	upstreamFlag := flag.String("storefront", "", "storefront API base URL override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Server.MCPAddr = *addrFlag
	}
	if *upstreamFlag != "" {
		cfg.Gateway.StorefrontURL = *upstreamFlag
	}
	logger := cfg.Logger().WithComponent("mcp-gateway")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	upstream := gateway.NewUpstream(cfg.Gateway.StorefrontURL, func(o *gateway.UpstreamOptions) {
		o.Timeout = cfg.Gateway.Timeout()
		o.Logger = logger
	})
	server := &http.Server{
		Addr:              cfg.Server.MCPAddr,
		Handler:           gateway.NewServer(upstream, func(o *gateway.ServerOptions) { o.Logger = logger }),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("MCP gateway listening", "addr", cfg.Server.MCPAddr, "storefront", cfg.Gateway.StorefrontURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}
