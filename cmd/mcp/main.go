package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iammorganparry/clive/apps/usermemory/internal/mcp"
)

func main() {
	serverURL := os.Getenv("MEMORY_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8741"
	}
	userID := os.Getenv("MEMORY_USER_ID")
	if userID == "" {
		fmt.Fprintln(os.Stderr, "MEMORY_USER_ID must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(serverURL, userID, os.Getenv("API_KEY"))
	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %s\n", err)
		os.Exit(1)
	}
}
