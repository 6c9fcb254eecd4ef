package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/credstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-b string   storage backend (os, memory, s3, postgres)
//	-r string   root directory of the os backend
//	-d string   PostgreSQL DSN
//	-a string   accounts gRPC listen address
//	-k string   key custody scheme (legacy, argon2id)
//	-s string   session token HMAC secret
//	-t int      session token validity, minutes
//	-l string   log level
//
// Args are filtered through flagx.FilterArgs first so flags meant for other
// components do not abort parsing.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-b", "-r", "-d", "-a", "-k", "-s", "-t", "-l"})

	fs := flag.NewFlagSet("credstore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.Storage, "b", config.Storage, "storage backend")
	fs.StringVar(&config.Root, "r", config.Root, "root directory for the os backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.GRPCAddress, "a", config.GRPCAddress, "gRPC listen address")
	fs.StringVar(&config.KeyScheme, "k", config.KeyScheme, "key custody scheme")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session secret")
	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session_ttl (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		}
	})
	return nil
}
