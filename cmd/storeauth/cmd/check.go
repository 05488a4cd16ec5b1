package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/storeauth"
)

var strictCheck bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print its security posture",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report := storeauth.BuildSecurityReport(cfg, cfg.Redis.Addr != "")

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "shared state (redis)\t%t\n", report.SharedState)
		fmt.Fprintf(w, "secure cookies\t%t\n", report.SecureCookies)
		fmt.Fprintf(w, "persistent totp key\t%t\n", report.PersistentTOTPKey)
		fmt.Fprintf(w, "setup tickets\t%s (persistent key: %t)\n", report.SetupSigningAlgorithm, report.PersistentSetupKey)
		fmt.Fprintf(w, "session lifetime\t%s (remember me %s)\n", report.SessionLifetime, report.RememberMeLifetime)
		fmt.Fprintf(w, "reset lifetime\t%s\n", report.ResetLifetime)
		fmt.Fprintf(w, "argon2id\tm=%d t=%d p=%d\n", report.Argon2.Memory, report.Argon2.Time, report.Argon2.Parallelism)
		fmt.Fprintf(w, "breach check\t%t\n", report.BreachCheckActive)
		fmt.Fprintf(w, "login throttle\t%t\n", report.LoginThrottleActive)
		fmt.Fprintf(w, "audit\t%t\n", report.AuditActive)
		if err := w.Flush(); err != nil {
			return err
		}

		for _, warning := range report.Warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", warning)
		}
		if strictCheck && len(report.Warnings) > 0 {
			return fmt.Errorf("%d warnings", len(report.Warnings))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&strictCheck, "strict", false, "Fail when any warning is reported")
}
