package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/devblac/peep-indexer/internal/config"
	"github.com/devblac/peep-indexer/internal/ipfs"
	"github.com/devblac/peep-indexer/internal/logging"
	"github.com/devblac/peep-indexer/internal/sink"
	"github.com/devblac/peep-indexer/internal/storage"
)

func newLogger() *slog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return logging.NewWithLevel(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Connect(cfg.Global.DBDriver, cfg.Global.DSN())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func newResolver(cfg *config.Config, log *slog.Logger) (*ipfs.Resolver, error) {
	timeout, err := cfg.IPFS.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	backoff, err := cfg.IPFS.BackoffDuration()
	if err != nil {
		return nil, err
	}
	return ipfs.NewResolver(ipfs.Options{
		GatewayURL: cfg.IPFS.GatewayURL,
		Timeout:    timeout,
		Retries:    cfg.IPFS.Retries,
		Backoff:    backoff,
	}, log)
}

func buildSinks(cfg *config.Config) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfg.Sinks {
		var (
			sender sink.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
