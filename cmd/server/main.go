// Command server wires config, the session manager, and the transport
// layer together, serves HTTP, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snake-arena-server/internal/config"
	"snake-arena-server/internal/engine"
	"snake-arena-server/internal/session"
	"snake-arena-server/internal/transport"
	"snake-arena-server/internal/weapons"
)

func main() {
	cfg := config.Load()

	engine.RegisterRandomWeapon(weapons.GetRandomWeapon)

	mgr := session.NewManager(session.Options{
		DefaultBoardSize:  cfg.DefaultBoardSize,
		DefaultGameSpeed:  cfg.DefaultGameSpeed,
		DefaultMaxPlayers: cfg.DefaultMaxPlayers,
		IdleTimeout:       cfg.SessionIdleTimeout,
		SweepInterval:     cfg.SweepInterval,
	})

	handler := transport.NewHandler(mgr)

	mux := http.NewServeMux()
	mux.HandleFunc("/", transport.HealthHandler(mgr))
	mux.HandleFunc("/ws", handler.ServeWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		log.Printf("WebSocket endpoint: /ws")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: listen error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("server: shutting down")
	mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server: shutdown error: %v", err)
	}
}
