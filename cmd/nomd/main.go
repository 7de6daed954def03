// Command nomd is a small example client/server for the NOM runtime, built
// the way the teacher's `hop` CLI is built: one root ffcli.Command with a
// handful of subcommands, each in its own file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootFlagSet := flag.NewFlagSet("nomd", flag.ExitOnError)
	verbose := rootFlagSet.Bool("v", false, "enable debug logging")

	root := &ffcli.Command{
		Name:       "nomd",
		ShortUsage: "nomd <subcommand> [flags]",
		ShortHelp:  "Run or talk to a NOM peer",
		FlagSet:    rootFlagSet,
		Subcommands: []*ffcli.Command{
			serveCmd,
			lsCmd,
			callCmd,
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := root.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("nomd failed")
	}
}
