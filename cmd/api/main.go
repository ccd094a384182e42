package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"alumninet.org/internal/access"
	"alumninet.org/internal/audit"
	"alumninet.org/internal/httpapi"
	"alumninet.org/internal/obs"
)

var version = "0.3.1"

func main() {
	// Local development reads config from .env; in deployment the
	// variables come from the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ALUMNINET_COMMIT"))

	var (
		db    *sql.DB
		store access.Store
	)
	if dsn := os.Getenv("ALUMNINET_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = access.NewPGStore(db)
	} else {
		log.Print("ALUMNINET_PG_DSN not set, using in-memory store")
		store = access.NewMemStore()
	}

	var verifier *httpapi.TokenVerifier
	if secret := os.Getenv("ALUMNINET_AUTH_SECRET"); secret != "" {
		var err error
		verifier, err = httpapi.NewTokenVerifier(secret)
		if err != nil {
			log.Fatalf("token verifier: %v", err)
		}
	} else {
		log.Print("ALUMNINET_AUTH_SECRET not set, bearer auth disabled")
	}

	consents := access.NewConsents(store, time.Now)
	engine := access.NewEngine(store, consents)
	api := httpapi.New(httpapi.Config{
		Store:      store,
		Engine:     engine,
		Consents:   consents,
		Recorder:   audit.NewRecorder(store.Audit()),
		Verifier:   verifier,
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
	})

	addr := os.Getenv("ALUMNINET_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting alumninet-access %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
