package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/api"
	"laundry-sync-backend/internal/clock"
	"laundry-sync-backend/internal/db"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/fault"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/machine"
	"laundry-sync-backend/internal/metrics"
	"laundry-sync-backend/internal/notification"
	"laundry-sync-backend/internal/realtime"
	"laundry-sync-backend/internal/store"
	"laundry-sync-backend/internal/waitlist"
)

const shutdownTimeout = 5 * time.Second

// Server is the laundry daemon: the single authority over machine state.
type Server struct {
	cfg  *config.Config
	log  *zap.Logger
	lock *flock.Flock
	db   *gorm.DB

	Store    store.Store
	Bus      *event.Bus
	Tokens   *identity.TokenStore
	Registry *machine.Registry
	Waitlist *waitlist.Service
	Faults   *fault.Aggregator
	Inbox    *notification.Dispatcher
	Hub      *realtime.Hub
	Metrics  *metrics.Metrics

	clock    *clock.Clock
	recorder *store.Recorder
	pool     *notification.WorkerPool
	mqtt     *notification.MQTTSink
	http     *http.Server
}

// New acquires the daemon lock, opens the store and restores state. The
// returned server owns the lock until Close.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: log, lock: flock.New(cfg.Server.LockFile)}

	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another laundryd already owns %s", cfg.Server.LockFile)
	}

	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg := s.cfg

	gormDB, err := db.Init(&cfg.Database, s.log)
	if err != nil {
		return err
	}
	s.db = gormDB
	s.Store = store.NewGormStore(gormDB)

	catalog, err := machine.NewCatalog(cfg.Categories)
	if err != nil {
		return fmt.Errorf("build category catalog: %w", err)
	}

	s.Bus = event.NewBus()
	s.Registry = machine.NewRegistry(catalog, s.Bus, machine.WithLogger(s.log))
	if err := s.Store.EnsureMachines(ctx, machine.Provisioned(cfg.Machines.Washers, cfg.Machines.Dryers)); err != nil {
		return err
	}
	machines, err := s.Store.LoadMachines(ctx)
	if err != nil {
		return err
	}
	if err := s.Registry.Load(machines); err != nil {
		return err
	}
	s.log.Info("machines restored", zap.Int("count", len(machines)))

	s.Tokens = identity.NewTokenStore(time.Duration(cfg.Identity.TokenTTLMinutes) * time.Minute)
	for _, t := range cfg.Identity.Tokens {
		s.Tokens.Register(t.Token, identity.Identity{UserID: t.UserID, Admin: t.Admin})
	}

	s.Metrics = metrics.New()
	s.Metrics.Seed(machines)

	sinks, err := s.alertSinks(ctx)
	if err != nil {
		return err
	}
	s.pool = notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.Queue, s.log.Named("alerts"), sinks...)
	s.pool.OnDelivered = s.Metrics.Delivered

	s.Waitlist = waitlist.New(s.Bus, s.log.Named("waitlist"))
	waiting, err := s.Store.ListWaitlistItems(ctx)
	if err != nil {
		return err
	}
	s.Waitlist.Restore(waiting)
	s.Inbox = notification.NewDispatcher(s.Bus, s.log.Named("inbox"),
		notification.WithQueue(s.pool), notification.WithArchive(s.Store))
	stored, err := s.Store.ListNotifications(ctx)
	if err != nil {
		return err
	}
	s.Inbox.Restore(stored)

	s.Faults = fault.NewAggregator(s.Registry, cfg.Fault.Threshold)
	s.clock = clock.New(cfg.Clock.Interval, s.Registry, s.log.Named("clock"))

	s.recorder = store.NewRecorder(s.Store, cfg.Database.RecorderQueue, s.log.Named("recorder"))
	s.recorder.OnDropped = func(event.Event) { s.Metrics.RecorderDropped.Inc() }

	s.Hub = realtime.NewHub(s.Tokens, cfg.Sync, s.log)
	s.Hub.Seed(s.Registry.Snapshot(), s.Waitlist.Snapshot())
	s.Hub.OnSlowConsumer = s.Metrics.SlowConsumers.Inc
	s.Hub.OnInbound = func(id identity.Identity, msg realtime.Message) {
		s.log.Debug("sync frame ignored", zap.String("user", id.UserID), zap.String("event", string(msg.Event)))
	}
	s.Metrics.ObserveConnections(s.Hub.Connections)

	// Delivery order: the clock and the waitlist react first, the hub last.
	s.Bus.Subscribe(s.clock)
	s.Bus.Subscribe(s.Waitlist)
	s.Bus.Subscribe(s.Inbox)
	s.Bus.Subscribe(s.recorder)
	s.Bus.Subscribe(s.Metrics)
	s.Bus.Subscribe(s.Hub)

	var push *webpush.Options
	if cfg.Push.Enabled {
		push = webpushOptions(cfg.Push)
	}
	handler := api.NewHandler(api.Deps{
		Registry: s.Registry,
		Waitlist: s.Waitlist,
		Faults:   s.Faults,
		Inbox:    s.Inbox,
		Store:    s.Store,
		Tokens:   s.Tokens,
		Hub:      s.Hub,
		WebPush:  push,
		Logger:   s.log,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		Server:     cfg.Server,
		Identities: s.Tokens,
		Hub:        s.Hub,
		Metrics:    s.Metrics,
		Logger:     s.log,
	})
	s.http = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

func webpushOptions(cfg config.PushConfig) *webpush.Options {
	return &webpush.Options{
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		Subscriber:      cfg.Subject,
		TTL:             cfg.TTL,
	}
}

func (s *Server) alertSinks(ctx context.Context) ([]notification.AlertSink, error) {
	var sinks []notification.AlertSink
	if s.cfg.Push.Enabled {
		if s.cfg.Push.PublicKey == "" || s.cfg.Push.PrivateKey == "" {
			return nil, errors.New("push is enabled but VAPID keys are not configured")
		}
		sinks = append(sinks, notification.NewWebPushSink(s.Store, webpushOptions(s.cfg.Push), s.log.Named("webpush")))
	}
	if s.cfg.MQTT.Enabled {
		sink, err := notification.NewMQTTSink(ctx, s.cfg.MQTT, s.log.Named("mqtt"))
		if err != nil {
			return nil, err
		}
		s.mqtt = sink
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// Run listens on the configured port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the background services and the HTTP API on ln until ctx is
// cancelled, then shuts everything down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	s.pool.Start(gctx)
	g.Go(func() error { return s.clock.Run(gctx) })
	g.Go(func() error { return s.recorder.Run(gctx) })
	g.Go(func() error { return s.Hub.Run(gctx) })
	if s.Registry.HasActive() {
		s.clock.Wake()
	}

	g.Go(func() error {
		s.log.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.log.Info("server stopped")
	return err
}

// Close releases the database, the broker connection and the daemon lock.
func (s *Server) Close() {
	if s.mqtt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.mqtt.Close(ctx); err != nil {
			s.log.Warn("failed to close mqtt connection", zap.Error(err))
		}
		cancel()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("failed to release daemon lock", zap.Error(err))
	}
}
