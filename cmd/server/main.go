package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"fundbook/api/grpcserver"
	"fundbook/api/httpapi"
	"fundbook/config"
	"fundbook/infra/identity"
	"fundbook/infra/ledger"
	"fundbook/infra/logging"
	"fundbook/infra/notify"
	"fundbook/infra/sequence"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
	exitwal "fundbook/infra/wal/exit"
	"fundbook/jobs/broadcaster"
	"fundbook/jobs/settler"
	"fundbook/jobs/sweeper"
	"fundbook/service"
	"fundbook/snapshot"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("FUNDBOOK_CONFIG"), "path to the YAML config (empty for in-memory defaults)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "fundbook: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---------------- Order store ----------------

	backend, durable, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	st := store.New(backend)
	defer st.Close()

	// ---------------- Journal ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:         cfg.Storage.JournalDir,
		SegmentSize: cfg.Storage.JournalSegment,
	})
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---------------- Outbox ----------------

	var outbox *exitwal.Outbox
	if cfg.Storage.Driver == "memory" {
		outbox, err = exitwal.OpenInMemory()
	} else {
		outbox, err = exitwal.Open(cfg.Storage.OutboxDir)
	}
	if err != nil {
		return err
	}
	defer outbox.Close()

	// ---------------- Collaborators ----------------

	ids, err := identity.NewStaticResolver(cfg.Identity.Wallets)
	if err != nil {
		return err
	}

	var (
		settle ledger.SettlementGateway
		pool   ledger.FallbackGateway
	)
	switch cfg.Ledger.Driver {
	case "http":
		c := ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
		settle, pool = c, c
	default:
		log.Warn("using the in-process ledger simulator")
		sim := ledger.NewSimulator()
		settle, pool = sim, sim
	}

	sink, err := notify.New(notify.Options{
		Driver:  cfg.Notify.Driver,
		Brokers: cfg.Notify.Brokers,
		Topic:   cfg.Notify.Topic,
		NATSURL: cfg.Notify.NATSURL,
		Subject: cfg.Notify.Subject,
	}, log)
	if err != nil {
		return err
	}

	// ---------------- Service ----------------

	svc := service.New(service.Options{
		DefaultTTL:       cfg.Book.DefaultTTL,
		TokenDecimals:    cfg.Book.TokenDecimals,
		SettlementMode:   cfg.Settlement.Mode,
		SettleAttempts:   cfg.Settlement.MaxAttempts,
		SettleBaseDelay:  cfg.Settlement.BaseDelay,
		MaxRetries:       cfg.Settlement.MaxRetries,
		RetryBaseBackoff: cfg.Settlement.RetryInterval,
	}, service.Deps{
		Store:      st,
		Outbox:     outbox,
		Journal:    journal,
		Identity:   ids,
		Settlement: settle,
		Fallback:   pool,
		Events:     notify.NewQueue(outbox, log),
		Sequencer:  sequence.New(0),
		Log:        log,
	})
	defer svc.Close()

	if _, err := svc.Recover(ctx); err != nil {
		return err
	}

	// ---------------- Listeners ----------------

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpapi.NewServer(svc, ids, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(log)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc, log))

	bc := broadcaster.New(outbox, sink, broadcaster.Config{Interval: cfg.Notify.PollInterval, MaxRetries: 100}, log)
	defer bc.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error { return sweeper.New(svc, cfg.Book.SweepInterval, log).Run(gctx) })
	g.Go(func() error { return settler.New(svc, cfg.Settlement.RetryInterval, log).Run(gctx) })
	g.Go(func() error { return bc.Run(gctx) })
	g.Go(func() error {
		w := &snapshot.Writer{Dir: cfg.Storage.SnapshotDir, Keep: 12}
		svc.RunSnapshots(gctx, w, cfg.Book.SnapshotInterval, durable)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openBackend returns the order store backend and whether it survives a
// restart on its own.
func openBackend(ctx context.Context, c config.Storage) (store.Backend, bool, error) {
	switch c.Driver {
	case "pebble":
		b, err := store.OpenPebble(c.PebbleDir)
		return b, true, err
	case "sqlite", "mysql":
		b, err := store.OpenSQL(ctx, c.Driver, c.DSN)
		return b, true, err
	default:
		return store.NewMemoryBackend(), false, nil
	}
}
