package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sheetrelay/internal"
	"sheetrelay/pkg/api"
	"sheetrelay/pkg/asana"
	"sheetrelay/pkg/queue"
	"sheetrelay/pkg/relay"
	"sheetrelay/pkg/sheets"
	"sheetrelay/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	httpClient := internal.NewRetryingClient(config.Retry, internal.NewLogger("http"))

	asanaClient := asana.NewClient(asana.Config{
		BaseURL:   config.Asana.BaseURL,
		Token:     config.Asana.Token,
		PageLimit: config.Asana.PageLimit,
	}, httpClient, internal.NewLogger("asana"))

	values, err := sheets.NewService(context.Background(), config.Sheets.Credentials, httpClient)
	if err != nil {
		logger.Fatalf("sheets service: %v", err)
	}
	secretStore := sheets.NewSecretStore(values, config.Sheets.SecretsSheet, internal.NewLogger("secrets"))
	taskTable := sheets.NewTaskTable(values, config.Sheets.TasksSheet, internal.NewLogger("tasks"))

	writes := queue.New(
		queue.Config{
			MinInterval: time.Duration(config.Queue.MinIntervalMS) * time.Millisecond,
			BackoffMin:  time.Duration(config.Queue.BackoffMinMS) * time.Millisecond,
			BackoffMax:  time.Duration(config.Queue.BackoffMaxMS) * time.Millisecond,
		},
		sheets.IsRateLimited,
		internal.NewLogger("queue"),
		queue.WithDepthGauge(internal.SetQueueDepth),
		queue.WithRetryCounter(internal.IncSheetWriteRetry),
	)

	pipeline, err := internal.NewPipeline(config.Pipeline)
	if err != nil {
		logger.Fatalf("pipeline: %v", err)
	}

	policy := relay.NewFieldPolicy(config.Relay)
	reconciler := relay.NewReconciler(
		asanaClient,
		taskTable,
		writes,
		policy,
		config.Relay.SpecialAssignees,
		internal.NewLogger("reconciler"),
	)
	worker := relay.NewWorker(pipeline, config.Relay.EventTopic, reconciler, internal.NewLogger("worker"))

	// The queue's lifetime is controlled by Shutdown and the worker's by the
	// pipeline: both keep running while the server drains.
	go writes.Run(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(context.Background()); err != nil {
			logger.Printf("worker: %v", err)
		}
	}()

	hook := webhook.NewAsanaHandler(
		secretStore,
		writes,
		pipeline,
		config.Relay.EventTopic,
		config.Server.MaxBodyBytes,
		internal.NewLogger("webhook"),
	)

	mux := http.NewServeMux()
	mux.Handle("POST "+config.Server.WebhookPath, hook)
	mux.Handle("GET /tasks/{id}", &api.TaskHandler{Client: asanaClient, Logger: logger})
	mux.Handle("GET /tasks/project/{id}", &api.ProjectTasksHandler{Client: asanaClient, Logger: logger})
	mux.Handle("GET /tasks/project/{id}/completed", &api.ProjectTasksHandler{Client: asanaClient, CompletedOnly: true, Logger: logger})
	mux.Handle("GET /projects/workspace/{id}", &api.WorkspaceProjectsHandler{Client: asanaClient, Logger: logger})

	admin := &api.WebhookAdminHandler{
		Client:        asanaClient,
		Secrets:       secretStore,
		PublicBaseURL: config.Server.PublicBaseURL,
		WebhookPath:   config.Server.WebhookPath,
		AdminToken:    config.Server.AdminToken,
		Logger:        internal.NewLogger("admin"),
	}
	admin.Register(mux)

	if config.Server.MetricsEnabled {
		mux.Handle("GET "+config.Server.MetricsPath, expvar.Handler())
	}

	handler := internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, time.Minute)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	// Close the pipeline so the worker drains every event that was already
	// acknowledged, then drain the write queue; accepted work runs to
	// completion.
	if err := pipeline.Close(); err != nil {
		logger.Printf("pipeline close: %v", err)
	}
	<-workerDone
	writes.Shutdown()
}
