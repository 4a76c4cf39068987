// Package main implements a standalone mock ComfyUI server for E2E testing.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fictures/ai-gateway/internal/testutil/mockcomfy"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8188"
	}

	server := mockcomfy.NewDetached()
	if v := os.Getenv("COMPLETE_AFTER_POLLS"); v != "" {
		polls, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid COMPLETE_AFTER_POLLS: %v", err)
		}
		server.CompleteAfterPolls = polls
	}

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Handler(),
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down mockcomfy server...")
		//nolint:errcheck
		httpServer.Close()
		close(done)
	}()

	log.Printf("mockcomfy listening on :%s", port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	<-done
	log.Println("mockcomfy stopped")
}
