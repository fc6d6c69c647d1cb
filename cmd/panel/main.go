package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/host548/telegram-spam-panel/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	errCh, err := a.Start(ctx)
	if err != nil {
		fmt.Println("fatal start:", err)
		a.Stop(context.Background())
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			fmt.Println("fatal serve:", err)
		}
	}
	a.Stop(context.Background())
}
