// Package cli is the refstore administration command line: migrations,
// edit tokens and direct item inspection and editing.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/refstore/internal/server/auth"
	"github.com/dmitrijs2005/refstore/internal/server/config"
	"github.com/dmitrijs2005/refstore/internal/server/items"
	"github.com/spf13/cobra"
)

// tokenEnv supplies --token when the flag is absent.
const tokenEnv = "REFSTORE_TOKEN"

var errNoToken = errors.New("an edit token is required (--token or " + tokenEnv + ")")

// Backend is the part of the server application the commands drive.
type Backend interface {
	Items() (*items.Store, error)
	Authorize(ctx context.Context, token string) (context.Context, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Opener builds a Backend from the loaded configuration.
type Opener func(cfg *config.Config) (Backend, error)

type runner struct {
	open       Opener
	out        io.Writer
	configPath string
	token      string

	cfg     *config.Config
	backend Backend
}

// Run executes the command line args, writing results to out. The backend,
// if any command opened it, is closed before Run returns.
func Run(ctx context.Context, open Opener, out io.Writer, args []string) (err error) {
	r := &runner{open: open, out: out}
	defer func() {
		if cerr := r.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	root := r.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (r *runner) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "refstore",
		Short:         "Administer a refstore deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(r.out)
	root.PersistentFlags().StringVarP(&r.configPath, "config", "c", "", "JSON config file")
	root.PersistentFlags().StringVar(&r.token, "token", "", "edit token (default $"+tokenEnv+")")

	root.AddCommand(r.migrateCmd())
	root.AddCommand(r.tokenCmd())
	root.AddCommand(r.itemCmd())
	root.AddCommand(r.noteCmd())
	root.AddCommand(r.attachCmd())
	return root
}

func (r *runner) config() (*config.Config, error) {
	if r.cfg != nil {
		return r.cfg, nil
	}
	cfg, err := config.LoadFile(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg
	return cfg, nil
}

func (r *runner) connect() (Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}
	cfg, err := r.config()
	if err != nil {
		return nil, err
	}
	b, err := r.open(cfg)
	if err != nil {
		return nil, err
	}
	r.backend = b
	return b, nil
}

func (r *runner) close() error {
	if r.backend == nil {
		return nil
	}
	err := r.backend.Close()
	r.backend = nil
	return err
}

// store opens the backend and a fresh item store.
func (r *runner) store() (*items.Store, error) {
	b, err := r.connect()
	if err != nil {
		return nil, err
	}
	return b.Items()
}

// authorize returns a ctx carrying the caller's claims and the user id that
// saves are attributed to.
func (r *runner) authorize(ctx context.Context) (context.Context, int64, error) {
	tok := r.token
	if tok == "" {
		tok = os.Getenv(tokenEnv)
	}
	if tok == "" {
		return ctx, 0, errNoToken
	}
	b, err := r.connect()
	if err != nil {
		return ctx, 0, err
	}
	ctx, err = b.Authorize(ctx, tok)
	if err != nil {
		return ctx, 0, err
	}
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return ctx, 0, errNoToken
	}
	return ctx, claims.UserID, nil
}
