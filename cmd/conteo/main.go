// conteo is the handheld-side tool for warehouse physical inventory: it
// captures scanned counts against open inventory lines and reconciles
// finalized count passes in the back office.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mvidal/conteo/internal/api"
	"github.com/mvidal/conteo/internal/config"
)

var (
	cfgFile string
	verbose bool

	cfg    config.Config
	log    = logrus.New()
	client *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "conteo",
	Short: "Scan-driven inventory count capture and reconciliation",
	Long: `conteo records counted quantities against open inventory lines, driven by a
barcode scanner or manual entry, and reconciles up to three independent count
passes per line into a final accepted quantity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		} else {
			log.SetLevel(logrus.WarnLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		if cfg.API.BaseURL != "" {
			client, err = api.New(api.Config{
				BaseURL:           cfg.API.BaseURL,
				Token:             cfg.API.Token,
				HTTPClient:        &http.Client{Timeout: cfg.APITimeout()},
				RequestsPerSecond: cfg.API.RequestsPerSecond,
				Logger:            log,
			})
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}
		}
		return nil
	},
}

// requireClient guards commands that talk to the backend
func requireClient() error {
	if client == nil {
		return fmt.Errorf("no API configured: set api.base_url in the config file or %s", config.EnvAPIURL)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.conteo/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
