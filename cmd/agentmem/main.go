package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/iammorganparry/agentmem/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.Run(context.Background(), os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "agentmem: %s\n", err)
		os.Exit(1)
	}
}
