package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/storage"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and manage accounts",
}

var userShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Print an account's sign-in state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), args[0], func(env *userEnv) error {
			u := env.user
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "id\t%s\n", u.ID)
			fmt.Fprintf(w, "email\t%s\n", u.Email)
			fmt.Fprintf(w, "username\t%s\n", u.Username)
			fmt.Fprintf(w, "phone\t%s\n", u.Phone)
			fmt.Fprintf(w, "email verified\t%t\n", u.EmailVerified)
			fmt.Fprintf(w, "two-factor\t%t\n", u.RegisteredTOTP())
			fmt.Fprintf(w, "recovery codes\t%d\n", len(u.RecoveryCodes))
			fmt.Fprintf(w, "created\t%s\n", u.CreatedAt.Format(time.RFC3339))
			return w.Flush()
		})
	},
}

var userSessionsCmd = &cobra.Command{
	Use:   "sessions <email>",
	Short: "List an account's live sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), args[0], func(env *userEnv) error {
			sessions, err := env.engine.UserSessions(cmd.Context(), env.user.ID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tEXPIRES\t2FA\tIP\tUSER AGENT")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339),
					s.TwoFactorVerified, s.IPAddress, s.UserAgent)
			}
			return w.Flush()
		})
	},
}

var forceDelete bool

var userDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Sign an account out everywhere and delete it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !forceDelete {
			return errors.New("refusing to delete without --force")
		}
		return withUser(cmd.Context(), args[0], func(env *userEnv) error {
			if err := env.engine.DeleteUser(cmd.Context(), env.user.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", env.user.Email)
			return nil
		})
	},
}

type userEnv struct {
	engine *storeauth.Engine
	user   *storage.User
}

// withUser builds an engine from the configured backends, resolves email and
// runs fn. Sessions are only visible when Redis is configured.
func withUser(ctx context.Context, email string, fn func(env *userEnv) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, users, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	user, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no account for %s", email)
	}
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		fmt.Fprintln(os.Stderr, "warning: redis not configured, sessions of a running server are not visible")
	}
	return fn(&userEnv{engine: engine, user: user})
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userShowCmd, userSessionsCmd, userDeleteCmd)
	userDeleteCmd.Flags().BoolVar(&forceDelete, "force", false, "Confirm the deletion")
}
