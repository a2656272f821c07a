package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	kairocmd "github.com/kairo-dev/kairo/pkg/kairo/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A missing .env file is fine; it only supplements the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := kairocmd.NewRootCommand(kairocmd.DefaultConfig())
	root.SetArgs(args)
	if err := kairocmd.ExecuteContext(ctx, root); err != nil {
		return 1
	}
	return 0
}
