// Command aegisd runs the e-commerce agents in one process. With peers
// configured it hosts a subset and reaches the rest over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/aegis"
	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/config"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/gateway"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/model/anthropic"
	"github.com/hupe1980/aegis/model/openai"
	"github.com/hupe1980/aegis/store"
	"github.com/hupe1980/aegis/store/sqlite"
	"github.com/hupe1980/aegis/transport/httptransport"
)

func main() {
	configPath := flag.String("config", "", "path to aegis.toml")
	addrFlag := flag.String("addr", "", "http listen address override")
	agentsFlag := flag.String("agents", "", "comma separated agent ids to host (default: all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	logger := cfg.Logger().WithComponent("aegisd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archive, closeArchive, err := openArchive(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("open archive: %v", err)
	}
	defer closeArchive()

	sys, err := aegis.New(func(o *aegis.Options) {
		o.Model = buildModel(cfg.LLM, logger)
		o.Gateway = buildGateway(cfg.Gateway, logger)
		o.Archive = archive
		o.Remote = buildRemote(cfg.Runtime)
		o.Hosted = splitList(*agentsFlag)
		o.RequestTimeout = cfg.Runtime.RequestTimeout()
		o.Runtime = []func(*agent.Options){func(ro *agent.Options) {
			ro.MailboxSize = cfg.Runtime.MailboxSize
			ro.PollInterval = cfg.Runtime.PollInterval()
			ro.ReplyTimeout = cfg.Runtime.ReplyTimeout()
		}}
		o.Logger = logger
	})
	if err != nil {
		log.Fatalf("build agents: %v", err)
	}
	if err := sys.Start(ctx); err != nil {
		log.Fatalf("start agents: %v", err)
	}
	logger.Info("Agents started", "agents", len(sys.Status()), "llm_provider", cfg.LLM.Provider, "store", cfg.Store.Backend)

	var server *http.Server
	if cfg.Server.Addr != "" {
		server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           newAPI(sys, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("HTTP API listening", "addr", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", err.Error())
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	if err := sys.Stop(shutdownCtx); err != nil {
		logger.Error("Stopping agents failed", "error", err.Error())
	}
}

// buildModel returns nil for the mock provider; agents then answer with
// their rule-based fallbacks.
func buildModel(cfg config.LLMConfig, logger logging.Logger) model.Model {
	var next model.Model
	switch cfg.Provider {
	case config.ProviderAnthropic:
		next = anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = sdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	case config.ProviderOpenAI:
		next = openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	default:
		return nil
	}
	return model.NewLimited(next, func(o *model.LimitedOptions) {
		o.MaxCalls = cfg.MaxCalls
		o.Timeout = cfg.Timeout()
		o.Logger = logger
	})
}

func buildGateway(cfg config.GatewayConfig, logger logging.Logger) core.Gateway {
	if cfg.MCPURL != "" {
		return gateway.NewClient(cfg.MCPURL, func(o *gateway.ClientOptions) {
			o.Timeout = cfg.Timeout()
			o.Logger = logger
		})
	}
	return gateway.NewUpstream(cfg.StorefrontURL, func(o *gateway.UpstreamOptions) {
		o.Timeout = cfg.Timeout()
		o.Logger = logger
	})
}

func buildRemote(cfg config.RuntimeConfig) core.Transport {
	if len(cfg.Peers) == 0 {
		return nil
	}
	return httptransport.NewClient(func(o *httptransport.Options) {
		o.Peers = cfg.Peers
		o.Timeout = cfg.ReplyTimeout()
	})
}

func openArchive(ctx context.Context, cfg config.StoreConfig) (core.Archive, func(), error) {
	if cfg.Backend != config.StoreSQLite {
		return store.NewInMemoryArchive(), func() {}, nil
	}
	db, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", cfg.Path, err)
	}
	return db, func() { _ = db.Close() }, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
