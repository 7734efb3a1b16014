package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"procurement/db"
	"procurement/db/migrations"
	"procurement/internal/config"
	"procurement/internal/evaluation"
	"procurement/internal/handlers"
	"procurement/internal/notify"
	"procurement/internal/order"
	"procurement/internal/provider"
	"procurement/internal/request"
	"procurement/internal/scheduler"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
	if err != nil {
		log.Fatal("cannot connect to DB", zap.Error(err))
	}
	defer dbConn.Close()

	if err := migrations.Run(cfg.PostgresConn); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		notifier = notify.NewRedisNotifier(redis.NewClient(opts), log)
	}

	store := db.NewStorage(dbConn)
	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, log)

	requests := request.NewService(store, notifier, log)
	evaluations := evaluation.NewService(store, log)
	orders := order.NewService(store, providerClient, notifier, log)

	h := handlers.NewHandler(requests, evaluations, orders)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		// requests
		r.Post("/requests/new", h.CreateRequestHandler)
		r.Get("/requests", h.GetRequestsHandler)
		r.Get("/requests/my", h.GetUserRequestsHandler)
		r.Put("/requests/{requestId}/submit", h.SubmitRequestHandler)
		r.Put("/requests/{requestId}/approve", h.ApproveRequestHandler)
		r.Put("/requests/{requestId}/reject", h.RejectRequestHandler)
		r.Put("/requests/{requestId}/cancel", h.CancelRequestHandler)
		// offers
		r.Post("/requests/{requestId}/offers/new", h.AddOfferHandler)
		r.Get("/requests/{requestId}/offers", h.GetOffersHandler)
		// evaluation
		r.Post("/requests/{requestId}/evaluate", h.EvaluateHandler)
		r.Get("/requests/{requestId}/evaluations", h.GetEvaluationsHandler)
		r.Put("/requests/{requestId}/select_offer", h.SelectOfferHandler)
		// orders
		r.Post("/orders/new", h.CreateOrderHandler)
		r.Get("/orders/{orderId}", h.GetOrderHandler)
		r.Put("/orders/{orderId}/approve", h.ApproveOrderHandler)
		r.Put("/orders/{orderId}/reject", h.RejectOrderHandler)
		r.Post("/orders/{orderId}/substitution", h.RequestSubstitutionHandler)
		r.Post("/orders/{orderId}/extension", h.RequestExtensionHandler)
		r.Put("/orders/{orderId}/change/approve", h.ApproveChangeHandler)
		r.Put("/orders/{orderId}/change/reject", h.RejectChangeHandler)
		// external provider callback
		r.Post("/webhooks/provider-decision", h.ProviderDecisionHandler)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(requests, cfg.ExpirySweepMinutes, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{Addr: cfg.ServerAddress, Handler: r}
	go func() {
		log.Info("starting server", zap.String("addr", cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
