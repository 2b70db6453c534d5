// Command server runs a refstore deployment's background surface: the
// /metrics endpoint. With -migrate it brings the databases up to date first.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/dmitrijs2005/refstore/internal/flagx"
	"github.com/dmitrijs2005/refstore/internal/server"
	"github.com/dmitrijs2005/refstore/internal/server/config"
)

func migrateOnStart() bool {
	var migrate bool
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-migrate", "--migrate"}))
	return migrate
}

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if migrateOnStart() {
		if err := app.Migrate(ctx); err != nil {
			log.Printf("migrate: %v", err)
			_ = app.Close()
			os.Exit(1)
		}
	}

	app.Run(ctx)

}
