package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/nom/service"
)

var (
	serveFlagSet = flag.NewFlagSet("nomd serve", flag.ExitOnError)
	serveAddr    = serveFlagSet.String("listen", ":4242", "address to listen on")
	serveMaxSize = serveFlagSet.String("max-payload", "16KiB", "maximum frame payload size")
)

var serveCmd = &ffcli.Command{
	Name:       "serve",
	ShortUsage: "nomd serve [flags]",
	ShortHelp:  "Start a NOM peer and register a demo greeter export",
	LongHelp: strings.TrimSpace(`

The 'nomd serve' command starts a NOM service bound to --listen and keeps
it running until interrupted. It registers a single demo export, "greeter",
so a second nomd instance can Connect, Resolve it, and Call it.

`),
	FlagSet: serveFlagSet,
	Exec:    runServe,
}

type greeter struct {
	Greeting string
}

func (g *greeter) Call(args []interface{}) (interface{}, error) {
	name := "world"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			name = s
		}
	}
	return g.Greeting + ", " + name + "!", nil
}

func runServe(ctx context.Context, args []string) error {
	opt := service.DefaultOptions
	opt.ListenAddr = *serveAddr
	opt.MaxPayloadSize = *serveMaxSize

	svc, err := service.New(opt)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	svc.Register("greeter", &greeter{Greeting: "hello"})
	log.Info().Str("addr", svc.LocalAddr().String()).Str("id", svc.ID.String()).Msg("nomd serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), opt.ReplyCacheTTL)
	defer cancel()
	return svc.Stop(stopCtx)
}
