package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "storeauth",
	Short: "storeauth serves sign-in for the store admin",
	Long: `Authentication service for the store admin: password login, email
verification, TOTP two-factor, recovery codes, contact changes and password
reset. Settings come from an optional YAML file, a .env file and STOREAUTH_*
environment variables, in that order.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
}
