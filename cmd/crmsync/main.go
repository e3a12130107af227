// Package main is the entry point for the crmsync command.
package main

import (
	"context"
	"os"

	"github.com/c0deZ3R0/go-crm-sync/cmd/crmsync/app"
)

func main() {
	if err := app.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
