// Command refstore administers a refstore deployment: it applies
// migrations, issues edit tokens and inspects or edits single items.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/refstore/internal/cli"
	"github.com/dmitrijs2005/refstore/internal/server"
	"github.com/dmitrijs2005/refstore/internal/server/config"
)

func main() {
	open := func(cfg *config.Config) (cli.Backend, error) {
		app, err := server.NewApp(cfg)
		if err != nil {
			return nil, err
		}
		return app, nil
	}
	if err := cli.Run(context.Background(), open, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
