package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/refstore/internal/server/auth"
	"github.com/spf13/cobra"
)

func (r *runner) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply master and shard migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := r.connect()
			if err != nil {
				return err
			}
			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(r.out, "migrations applied")
			return nil
		},
	}
}

func (r *runner) tokenCmd() *cobra.Command {
	var (
		userID    int64
		libraries []int64
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an edit token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			cfg, err := r.config()
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken(userID, libraries, []byte(cfg.SecretKey), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.out, tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().Int64SliceVar(&libraries, "library", nil, "writable library id (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
