package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/revdeluxe/HDE/internal/config"
	"github.com/revdeluxe/HDE/internal/output"
	loghttp "github.com/revdeluxe/HDE/pkg/lora/http"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	serverURL    string

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	client    *loghttp.Client
	formatter output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "hde",
	Short: "Half-duplex LoRa messaging node",
	Long: `hde runs a store-and-forward messaging node over a half-duplex LoRa radio
and controls running nodes through their HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if serverURL == "" {
			serverURL = apiURL(cfg.HTTP.Listen)
		}
		client = &loghttp.Client{URL: strings.TrimSuffix(serverURL, "/")}
		formatter = output.NewFormatter(outputFormat)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// apiURL derives the URL of the local node API from its listen address.
func apiURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.hde/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "node API URL (default derived from http.listen)")
}
