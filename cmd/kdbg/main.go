package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/kdbg-tools/kdbg/cmd/kdbg/cmds"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	err := cmds.Execute(ctx, cmds.New())
	stop()
	if err != nil {
		os.Exit(1)
	}
}
