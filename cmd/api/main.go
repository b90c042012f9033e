package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/webhook-dispatch/config"
	"github.com/clinicore/webhook-dispatch/delivery"
	"github.com/clinicore/webhook-dispatch/dispatch"
	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/internal/http/chi"
	"github.com/clinicore/webhook-dispatch/metrics"
	"github.com/clinicore/webhook-dispatch/ratelimit"
	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/clinicore/webhook-dispatch/subscription/memory"
	"github.com/clinicore/webhook-dispatch/subscription/redis"
)

const TIMEOUT = 30 * time.Second

/*
 * Wiring happens here and only here: main builds the storage backend, the
 * subscription service, the dispatcher and the HTTP surface, then hands the
 * router to the server. Imports flow one direction only: the application
 * layer imports the business packages, which import storage, never the
 * reverse.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	var repo subscription.Repository
	switch cfg.Storage {
	case "redis":
		repo, err = redis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fmt.Println(err)
			return
		}
	default:
		repo = memory.NewRepository()
	}
	defer repo.Close(ctx)

	catalog := event.DefaultCatalog()
	if cfg.EventsFile != "" {
		if err := catalog.Load(cfg.EventsFile); err != nil {
			fmt.Println(err)
			return
		}
	}

	svc := subscription.NewService(repo, cfg.Environment)
	limiter := ratelimit.New(cfg.RateLimitPerWindow, cfg.RateLimitWindow())
	store := delivery.NewStore(cfg.MaxDeliveryRecords)

	dispatcher := dispatch.NewDispatcher(svc, store, limiter, dispatch.Options{
		Timeout:     cfg.DeliveryTimeout(),
		Environment: cfg.Environment,
		Catalog:     catalog,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Deleting a subscription cancels its pending retries and clears its
	// rate-limit window.
	svc.OnDelete(dispatcher.CancelSubscription)

	exporter, err := metrics.NewOTelExporter(dispatcher)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(ctx)

	r := chi.Handlers(ctx, chi.Deps{
		Subscriptions: svc,
		Dispatcher:    dispatcher,
		Deliveries:    store,
		Limiter:       limiter,
		Catalog:       catalog,
		Metrics:       exporter.ServeHTTP(),
	})
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
