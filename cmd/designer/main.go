// Package main is the entry point for the designer service. It wires all
// dependencies together and serves designer sessions over HTTP.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "designer",
	Short:         "Headless multi-panel designer service",
	Long:          "designer serves multi-panel entity designers (lists, datasets, assays) over HTTP\nand checks designer definition files before they are deployed.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(func() {
		loadEnvFiles(os.Stderr, ".env", ".env.local")
	})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.SetVersionTemplate(fmt.Sprintf("designer %s (%s)\n", version, commit))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

// loadEnvFiles reads DSNs and other secrets from .env files in the working
// directory. Variables already set in the environment win. A file that
// exists but does not parse is reported on w and skipped. It returns the
// number of files loaded.
func loadEnvFiles(w io.Writer, files ...string) int {
	loaded := 0
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(w, "%s %s not loaded: %v\n", color.New(color.FgYellow, color.Bold).Sprint("WARN"), f, err)
			continue
		}
		loaded++
	}
	return loaded
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
