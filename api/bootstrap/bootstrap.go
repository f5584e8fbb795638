// Package bootstrap wires configuration, storage, Stripe and the transports
// into one App.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tbeaudouin05/snapcal-api/api/config"
	"github.com/tbeaudouin05/snapcal-api/api/database"
	"github.com/tbeaudouin05/snapcal-api/api/grpcserver"
	"github.com/tbeaudouin05/snapcal-api/api/router"
	diaryapp "github.com/tbeaudouin05/snapcal-api/api/services/diary/app"
	diarydb "github.com/tbeaudouin05/snapcal-api/api/services/diary/db"
	entitlementapp "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/app"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
	stripeapp "github.com/tbeaudouin05/snapcal-api/api/services/stripe/app"
	stripedb "github.com/tbeaudouin05/snapcal-api/api/services/stripe/db"
	gw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway"
	stripegw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway/stripe"
	usersapp "github.com/tbeaudouin05/snapcal-api/api/services/users/app"
	usersdb "github.com/tbeaudouin05/snapcal-api/api/services/users/db"
)

const shutdownTimeout = 15 * time.Second

// App owns every long-lived dependency of the API process.
type App struct {
	cfg     *config.Config
	db      *sql.DB
	httpSrv *http.Server
	grpc    *grpcserver.Server
	sweeper *entitlementapp.Sweeper
}

// New opens the database and wires the application with the live Stripe client.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	stripegw.SetKey(cfg.StripeSecretKey)
	app, err := NewWithDeps(cfg, db, stripegw.New())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// NewWithDeps wires the application on an existing database handle and gateway.
// The App takes ownership of db.
func NewWithDeps(cfg *config.Config, db *sql.DB, stripeGateway gw.StripeGateway) (*App, error) {
	ents := entitlementdb.NewPostgres(db)

	reconciler := stripeapp.NewReconciler(ents, stripeGateway, stripeapp.ReconcilerOptions{
		RefetchTimeout: cfg.RefetchTimeout,
		DiscardStale:   cfg.DiscardStale,
	})
	billing := stripeapp.NewService(stripeapp.Deps{
		Gateway:       stripeGateway,
		Entitlements:  ents,
		Ledger:        stripedb.NewPostgresLedger(db),
		Reconciler:    reconciler,
		WebhookSecret: cfg.StripeWebhookSecret,
		Checkout: stripeapp.CheckoutConfig{
			PriceID:    cfg.StripePriceID,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		},
	})
	users := usersapp.NewService(usersdb.NewPostgres(db), usersapp.Options{
		JWTSecret: []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
		Trial:     cfg.TrialDuration(),
	})

	grpcSrv := grpcserver.New(net.JoinHostPort("", cfg.GRPCPort))
	handler, err := router.NewRouter(router.Deps{
		Users:     users,
		Access:    entitlementapp.NewService(ents, nil),
		Billing:   billing,
		Diary:     diaryapp.NewService(diarydb.NewPostgres(db), nil),
		Health:    grpcSrv.Health(),
		JWTSecret: []byte(cfg.JWTSecret),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	return &App{
		cfg: cfg,
		db:  db,
		httpSrv: &http.Server{
			Addr:              net.JoinHostPort("", cfg.HTTPPort),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:    grpcSrv,
		sweeper: entitlementapp.NewSweeper(ents, cfg.SweepInterval, nil),
	}, nil
}

// DB returns the database handle owned by the App.
func (a *App) DB() *sql.DB { return a.db }

// Sweeper returns the expiry sweeper.
func (a *App) Sweeper() *entitlementapp.Sweeper { return a.sweeper }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Start runs the HTTP server, the gRPC server and the sweeper until ctx is
// canceled or one of them fails.
func (a *App) Start(ctx context.Context) error {
	a.grpc.SetServing(true)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting HTTP server", "address", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.grpc.Run(gctx); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.grpc.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts the HTTP server down and releases the database.
func (a *App) Stop(ctx context.Context) error {
	a.grpc.SetServing(false)
	err := a.httpSrv.Shutdown(ctx)
	if cerr := a.db.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
