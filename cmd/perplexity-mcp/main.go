// Command perplexity-mcp runs an MCP server over stdio exposing the
// Perplexity search API as agent tools.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/asksonar/perplexity-mcp/internal/config"
	"github.com/asksonar/perplexity-mcp/internal/logging"
	"github.com/asksonar/perplexity-mcp/internal/tools"
	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/identifier"
	"github.com/asksonar/perplexity-mcp/pkg/perplexity"
	"github.com/asksonar/perplexity-mcp/pkg/pricing"
	"github.com/asksonar/perplexity-mcp/pkg/ratelimit"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
	"github.com/asksonar/perplexity-mcp/pkg/sanitize"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	// Bootstrap guard: configuration failures are fatal before any other
	// component exists, so they go through a handler with default sinks.
	bootLog := logging.Default()
	bootHandler := faults.NewHandler(bootLog, sanitize.NewRedactor())
	ids := identifier.NewGenerator(map[string]string{reqctx.EntityRequest: "REQ"})
	contexts := reqctx.NewService(ids)

	cfg, _ := faults.Run(bootHandler, faults.Options{
		Operation: "load configuration",
		Ctx:       contexts.New("load configuration", map[string]any{"config_path": *configPath}),
		Code:      faults.CodeValidation,
		Critical:  true,
	}, func() (config.Config, error) {
		return config.Load(*configPath)
	})

	log := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	redactor := sanitize.NewRedactor(cfg.SensitiveFields...)
	handler := faults.NewHandler(log, redactor)

	client := perplexity.NewClient(perplexity.Config{
		BaseURL:           cfg.Perplexity.BaseURL,
		TokenSource:       perplexity.APIKeyTokenSource(cfg.Perplexity.APIKey),
		Timeout:           cfg.Perplexity.Timeout(),
		MaxRetries:        cfg.Perplexity.MaxRetries,
		RequestsPerSecond: cfg.Perplexity.RequestsPerSecond,
	})

	service := tools.New(tools.Deps{
		Client:   client,
		Contexts: contexts,
		Handler:  handler,
		Limiter:  ratelimit.NewWindowLimiter(cfg.RateLimiterConfig()),
		Costs:    pricing.NewCalculator(cfg.PricingTable()),
		Log:      log,
	})

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "perplexity-mcp",
		Version: version,
	}, nil)
	service.Register(server)

	log.Info("perplexity-mcp starting", map[string]any{
		"version":             version,
		"base_url":            cfg.Perplexity.BaseURL,
		"rate_limit_capacity": cfg.RateLimit.Capacity,
		"rate_limit_window_s": cfg.RateLimit.WindowSeconds,
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Error("server stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
