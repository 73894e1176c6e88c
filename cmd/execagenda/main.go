package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"execagenda/internal/cli"
	appLog "execagenda/internal/log"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		appLog.Error("execagenda failed", err)
		os.Exit(1)
	}
}
