package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"travel-booking/internal/api"
	"travel-booking/internal/boardingpass"
	"travel-booking/internal/bookings"
	"travel-booking/internal/bridge"
	"travel-booking/internal/config"
	"travel-booking/internal/kafka"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/network"
	"travel-booking/internal/state"
	"travel-booking/internal/syncer"
	syncredis "travel-booking/internal/syncer/redis"
	"travel-booking/internal/worker"
)

// App wires the sync engine together. Every service is built here and passed
// down explicitly.
type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	Worker       *worker.Worker
	Bridge       *bridge.Bridge
	State        *state.Store
	Network      *network.Monitor
	Orchestrator *syncer.Orchestrator
	Bookings     *bookings.Service
	Handler      *api.Handler

	redisClient *redis.Client
	producer    *kafka.Producer
	consumer    *kafka.Consumer

	cancel     context.CancelFunc
	workerDone chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New builds the components. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Logger: log}

	a.Worker = worker.New(worker.Options{
		DBPath:      cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		BatchSize:   cfg.Sync.BatchSize,
		Confirmer:   worker.NewSimulatedConfirmer(cfg.Sync.SuccessRate, cfg.Sync.Latency, time.Now().UnixNano()),
		Logger:      log,
	})

	var probe network.Probe = network.StaticProbe(cfg.Sync.StartOnline)
	if cfg.Network.ProbeAddr != "" {
		probe = network.DialProbe{Addr: cfg.Network.ProbeAddr, Timeout: cfg.Network.ProbeTimeout}
	}
	a.Network = network.NewMonitor(ctx, probe, log)
	a.State = state.NewStore(state.Options{Online: a.Network.Online(), Logger: log})

	opts := syncer.Options{Interval: cfg.Sync.Interval, Logger: log}
	if cfg.Redis.Enabled {
		a.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		lease := syncredis.NewLease(a.redisClient, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL, log)
		if err := lease.Ping(ctx); err != nil {
			a.redisClient.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		log.Info("REDIS", fmt.Sprintf("✅ Sync lease enabled on %s (holder %s)", cfg.Redis.Addr, lease.Holder()))
		opts.Lease = lease
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, []string{cfg.Kafka.EventsTopic, cfg.Kafka.TicketsTopic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		if cfg.Kafka.PublishEvents {
			a.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		}
		if cfg.Kafka.ConsumeFeed {
			a.consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TicketsTopic, cfg.Kafka.GroupID, log)
		}
	}

	a.Bridge = bridge.New(a.Worker, bridge.Options{
		Timeout:     cfg.Sync.RequestTimeout,
		SyncTimeout: cfg.Sync.SyncTimeout,
		Logger:      log,
	})
	a.Orchestrator = syncer.New(a.Bridge, a.State, opts)
	a.Bookings = bookings.NewService(a.Bridge, bookings.Options{
		Syncer:          a.Orchestrator,
		Online:          a.Network.Online,
		ConfirmOnCreate: cfg.Sync.ConfirmOnCreate,
		BoardingPass:    boardingpass.NewGenerator(cfg.BoardingPass.Secret, cfg.BoardingPass.Size),
		Logger:          log,
	})
	a.Handler = &api.Handler{
		Bookings: a.Bookings,
		Sync:     a.Orchestrator,
		Network:  a.Network,
		State:    a.State,
		Logger:   log,
	}
	return a, nil
}

// Start runs the worker, opens the store and starts the background loops.
// It returns once the store is ready and the initial stats are loaded.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.workerDone = make(chan struct{})

	go func() {
		defer close(a.workerDone)
		a.Worker.Run(runCtx)
	}()

	a.Bridge.OnEvent(a.State.HandleEvent)

	if _, err := bridge.Call[worker.InitDBResult](ctx, a.Bridge, worker.OpInitDB, worker.InitDBPayload{Path: a.Config.Database.Path}); err != nil {
		a.Close()
		return fmt.Errorf("init local store: %w", err)
	}
	if stats, err := bridge.Call[models.Stats](ctx, a.Bridge, worker.OpGetStats, nil); err == nil {
		a.State.MergeStats(stats)
	} else {
		a.Logger.Warn("APP", fmt.Sprintf("initial stats: %v", err))
	}

	// Both subscriptions exist before any goroutine runs, so a connectivity
	// event delivered right after Start returns reaches the orchestrator.
	netUpdates := a.Network.Subscribe(runCtx)
	reconnect := a.Orchestrator.Watch(runCtx)
	a.goRun(func() { a.followNetwork(netUpdates) })
	a.goRun(reconnect)

	if a.producer != nil {
		events := a.State.Events(runCtx)
		a.goRun(func() { a.producer.Run(runCtx, events) })
	}
	if a.consumer != nil {
		a.goRun(func() {
			a.consumer.Start(runCtx, func(ctx context.Context, tickets []models.Ticket) error {
				_, err := a.Bookings.CacheTickets(ctx, tickets)
				return err
			})
		})
	}

	if a.Config.Sync.AutoStart {
		a.Orchestrator.StartBackgroundSync(int(a.Config.Sync.Interval / time.Minute))
		if a.Network.Online() {
			a.goRun(func() { a.Orchestrator.SyncNow(runCtx) })
		}
	}

	a.Logger.Info("APP", "✅ Booking sync engine started")
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// followNetwork mirrors monitor transitions into the state store. The monitor
// may have flipped before the subscription was taken, so the current value is
// applied first.
func (a *App) followNetwork(updates <-chan bool) {
	a.State.SetNetwork(a.Network.Online())
	for online := range updates {
		a.State.SetNetwork(online)
	}
}

// Serve runs the HTTP API until ctx is done, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         a.Config.Server.Port,
		Handler:      a.Handler.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP", fmt.Sprintf("Listening on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Logger.Info("HTTP", "Shutting down server")
	return server.Shutdown(shutdownCtx)
}

// Close stops background work, waits for in-flight syncs started on create,
// then stops the worker, which closes the store.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.Orchestrator.StopBackgroundSync()
		if a.cancel != nil {
			a.cancel()
		}
		a.Bookings.Wait()
		a.wg.Wait()
		if a.workerDone != nil {
			<-a.workerDone
		}

		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.Logger.Warn("KAFKA", fmt.Sprintf("close producer: %v", err))
			}
		}
		if a.consumer != nil {
			if err := a.consumer.Close(); err != nil {
				a.Logger.Warn("KAFKA", fmt.Sprintf("close consumer: %v", err))
			}
		}
		if a.redisClient != nil {
			a.redisClient.Close()
		}
		a.Logger.Info("APP", "Booking sync engine stopped")
	})
}
