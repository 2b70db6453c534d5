package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/refstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   master PostgreSQL DSN
//	-r string   redis address (empty: in-process cache)
//	-t int      cache TTL, minutes
//	-s string   JWT HMAC secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m int      max item field value length, bytes
//	-n int      itemData rows per batch statement
//	-a string   metrics listen address
//	-v string   log level
//
// os.Args is filtered to only these flags first, so other components can
// parse their own flags from the same command line.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-t", "-s", "-u", "-p", "-b", "-g", "-e", "-m", "-n", "-a", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "master database DSN")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	cacheTTL := fs.Int("t", int(config.CacheTTL.Minutes()), "cache ttl (in minutes)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.IntVar(&config.MaxValueLength, "m", config.MaxValueLength, "max field value length (in bytes)")
	fs.IntVar(&config.DataBatchSize, "n", config.DataBatchSize, "item data rows per statement")
	fs.StringVar(&config.MetricsAddr, "a", config.MetricsAddr, "metrics listen address")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.CacheTTL = time.Duration(*cacheTTL) * time.Minute
}
