// Package main implements the entry point for the agent worker, the backend
// that accepts task submissions, dispatches them to AI providers, and streams
// progress events back to clients.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if err := app.Run(stop); err != nil {
		log.Fatalf("Application exited with error: %v", err)
	}
}
