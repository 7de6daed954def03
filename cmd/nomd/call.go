package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/nom/service"
)

var (
	callFlagSet = flag.NewFlagSet("nomd call", flag.ExitOnError)
	callPeer    = callFlagSet.String("peer", "", "address of the peer to connect to")
	callName    = callFlagSet.String("name", "", "name of the export to resolve and call")
)

var callCmd = &ffcli.Command{
	Name:       "call",
	ShortUsage: "nomd call -peer <addr> -name <export> [args...]",
	ShortHelp:  "Resolve a named export on a peer and invoke it",
	FlagSet:    callFlagSet,
	Exec:       runCall,
}

func runCall(ctx context.Context, args []string) error {
	if *callPeer == "" || *callName == "" {
		return fmt.Errorf("nomd call: -peer and -name are required")
	}

	svc, err := service.New(service.DefaultOptions)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(ctx)

	peer, err := svc.Connect(ctx, *callPeer)
	if err != nil {
		return err
	}
	p, err := peer.Resolve(ctx, *callName)
	if err != nil {
		return err
	}

	callArgs := make([]interface{}, len(args))
	for i, a := range args {
		callArgs[i] = a
	}
	result, err := p.Call(ctx, callArgs...)
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	return nil
}
