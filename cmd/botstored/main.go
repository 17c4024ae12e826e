package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	pgDSN      string
	redisAddr  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "botstored",
		Short: "Tiered storage daemon for the support bot",
		Long:  "Run the shared ticket/state storage service (memory + Redis + Postgres tiers) via the daemon command",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the durable tier")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the warm tier")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
