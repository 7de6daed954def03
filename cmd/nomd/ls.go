package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/nom/service"
)

var (
	lsFlagSet = flag.NewFlagSet("nomd ls", flag.ExitOnError)
	lsPeer    = lsFlagSet.String("peer", "", "address of the peer to connect to")
)

var lsCmd = &ffcli.Command{
	Name:       "ls",
	ShortUsage: "nomd ls -peer <addr>",
	ShortHelp:  "List a peer's named exports",
	FlagSet:    lsFlagSet,
	Exec:       runLs,
}

func runLs(ctx context.Context, args []string) error {
	if *lsPeer == "" {
		return fmt.Errorf("nomd ls: -peer is required")
	}

	svc, err := service.New(service.DefaultOptions)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(ctx)

	peer, err := svc.Connect(ctx, *lsPeer)
	if err != nil {
		return err
	}
	names, err := peer.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
