package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitework/api/internal/app"
	"sitework/api/internal/audit"
	"sitework/api/internal/config"
	"sitework/api/internal/email"
	"sitework/api/internal/search"
	"sitework/api/internal/session"
	"sitework/api/internal/storage"
	"sitework/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pgStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pgfts)

	auditRecorder := audit.NewRecorder(db)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var storageService *storage.Service
	if cfg.MinioEndpoint != "" {
		storageService, err = storage.NewService(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("warning: object storage unavailable, attachments disabled: %v", err)
			storageService = nil
		}
	}

	var service *app.Service
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, pgStore, redisStore, searchService, auditRecorder, emailService, storageService)
	} else {
		service = app.New(cfg, pgStore, searchService, auditRecorder, emailService, storageService)
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("warning: bootstrap: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
