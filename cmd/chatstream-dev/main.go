package main

import (
	"context"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soratobu/chatstream/internal/devserver"
	"github.com/soratobu/chatstream/pkg/log"
)

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	seed := flag.String("seed", "general", "channel to pre-create")
	flag.Parse()

	log.Init(log.Config{Level: "debug", Pretty: true, ServiceName: "chatstream-dev"})

	store := devserver.NewStore()
	if *seed != "" {
		store.Add(*seed, "system", "welcome to "+*seed)
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      devserver.NewServer(store).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		stdlog.Printf("Dev server listening on %s (ws: /ws)", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stdlog.Println("Shutting down dev server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		stdlog.Printf("Server forced to shutdown: %v", err)
	}
}
