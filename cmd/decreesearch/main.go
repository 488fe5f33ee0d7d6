package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "decreesearch",
		Short:         "Hybrid lexical and semantic search over scanned decrees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/decreesearch.yaml", "path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(rebuildCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(syncMirrorCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(removeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
