package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/config"
	"github.com/mnemo-sh/mnemo/pkg/embedding"
	"github.com/mnemo-sh/mnemo/pkg/memory"
)

var (
	version = "dev"

	flagConfig  string
	flagSession string
	flagAgent   string
)

func main() {
	root := &cobra.Command{
		Use:           "mnemo",
		Short:         "Persistent memory for long-running agent sessions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().StringVarP(&flagSession, "session", "s", "default", "session id scoping memory operations")
	root.PersistentFlags().StringVarP(&flagAgent, "agent", "a", "", "optional agent id scoping memory operations")

	root.AddCommand(
		newCoreCmd(),
		newStoreCmd(),
		newSearchCmd(),
		newRecallCmd(),
		newContextCmd(),
		newSessionCmd(),
		newShellCmd(),
		newDaemonCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadCfg() (*config.Config, error) {
	return config.LoadConfig(flagConfig)
}

func openStore(cfg *config.Config) (*memory.SQLiteStore, error) {
	return memory.NewSQLiteStore(cfg.DatabasePath(), memory.StoreOptions{
		SessionID: flagSession,
		AgentID:   flagAgent,
		Dimension: cfg.Embedding.Dimension,
	})
}

// newEmbedder builds the configured provider wrapped in the caching service.
func newEmbedder(cfg *config.Config) (*embedding.Service, error) {
	var (
		provider embedding.Provider
		err      error
	)
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
		provider, err = embedding.NewOpenAIProvider(cfg.Embedding.OpenAIAPIKey)
	case "voyage":
		provider, err = embedding.NewVoyageProvider(cfg.Embedding.VoyageAPIKey, cfg.Embedding.VoyageModel)
	case "mock":
		provider = embedding.NewMockProvider(cfg.Embedding.Dimension)
	case "local", "":
		provider = embedding.NewLocalProvider(cfg.Embedding.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (available: local, mock, openai, voyage)", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, err
	}
	return embedding.NewService(provider), nil
}
