package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiFlag     string
	profileFlag string
	timeoutFlag time.Duration
	rootCmd     = &cobra.Command{
		Use:           "capturectl",
		Short:         "CLI client for the Ember capture service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", envOr("EMBER_API", "http://localhost:8080"), "Capture service base URL")
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", os.Getenv("EMBER_PROFILE"), "Profile ID (required)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "Per-request timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newProfileClient() (*client, error) {
	if profileFlag == "" {
		return nil, fmt.Errorf("--profile required (or set EMBER_PROFILE)")
	}
	return newClient(apiFlag, profileFlag, timeoutFlag), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
