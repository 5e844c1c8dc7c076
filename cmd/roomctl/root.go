package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	Server string
	Pretty bool
}

var globals globalOptions

var rootCmd = &cobra.Command{
	Use:           "roomctl",
	Short:         "Command line client for the roomwatch service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globals.Server, "server", envOr("ROOMWATCH_URL", "http://localhost:8080"), "roomwatch base URL")
	rootCmd.PersistentFlags().BoolVar(&globals.Pretty, "pretty", false, "indent JSON output")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if globals.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
