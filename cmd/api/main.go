package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"drydock/internal/api"
	"drydock/internal/config"
	"drydock/internal/crypto"
	"drydock/internal/containerrt"
	"drydock/internal/deploy"
	"drydock/internal/eventbus"
	"drydock/internal/githubapp"
	"drydock/internal/jobqueue"
	"drydock/internal/logaggregator"
	"drydock/internal/router"
	"drydock/internal/sse"
	"drydock/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "drydock-api ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	app, err := githubapp.New(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.BaseURL)
	if err != nil {
		logger.Fatalf("github app: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer st.Close()

	box, err := crypto.NewBox(cfg.EncryptionPassphrase)
	if err != nil {
		logger.Fatalf("crypto: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	bus := eventbus.New(rdb)

	routerWriter := router.NewWriter(cfg.RouterConfigDir, cfg.DeployDomain)

	docker, err := containerrt.NewClient()
	if err != nil {
		logger.Fatalf("docker: %v", err)
	}
	defer docker.Close()

	temporalClient, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer temporalClient.Close()
	queue := jobqueue.New(temporalClient, cfg.TemporalTaskQueue)

	d := &deploy.Deploy{
		Store:             st,
		Bus:               bus,
		Router:            routerWriter,
		Queue:             queue,
		Docker:            docker,
		GitHub:            app,
		Box:               box,
		Log:               logger,
		RunnerNetwork:     cfg.RunnerNetwork,
		DeployDomain:      cfg.DeployDomain,
		Scheme:            router.SchemeHTTPS,
		DeploymentTimeout: cfg.DeploymentTimeout,
		JobTimeout:        cfg.JobTimeout,
		ProbeInterval:     cfg.ProbeInterval,
		HTTPProbeTimeout:  cfg.HTTPProbeTimeout,
	}

	logsClient := logaggregator.New(cfg.LogAggregatorURL)
	sseHandler := sse.New(st, bus, logsClient, cfg.SSEProjectStreamTTL)

	srv := api.New(app, st, d, sseHandler, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
