package main

import (
	"context"
	"os"

	"github.com/go-saas/txn/internal/cmd"
)

func main() {
	err := cmd.Execute(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
