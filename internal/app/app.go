package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/report"
	"github.com/xenking/pos-backend/internal/events"
	"github.com/xenking/pos-backend/internal/handler"
	"github.com/xenking/pos-backend/pkg/health"
	"github.com/xenking/pos-backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("db", cfg.Database.Driver),
		zap.String("events", cfg.Events.Driver),
	)

	st, err := openStore(ctx, lg, cfg.Database)
	if err != nil {
		return err
	}
	defer st.close()

	vat, err := cfg.Checkout.VAT()
	if err != nil {
		return err
	}
	loc, err := cfg.Reports.Location()
	if err != nil {
		return err
	}

	// The sequencer must resume from the stored history before the first
	// checkout. Refuse to start rather than risk duplicate numbers.
	sequencer := invoice.NewSequencer(st.invoices, invoice.Config{
		Prefix: cfg.Checkout.InvoicePrefix,
		Start:  cfg.Checkout.InvoiceStart,
	})
	next, err := sequencer.Init(ctx)
	if err != nil {
		return errors.Wrap(err, "init invoice sequencer")
	}
	lg.Info("Invoice sequencer ready", zap.String("next", invoice.Format(cfg.Checkout.InvoicePrefix, next)))

	procOpts := []order.Option{
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	}
	if cfg.Events.Driver != EventsNone {
		procOpts = append(procOpts, order.WithOutbox(st.outbox))
	}
	processor, err := order.NewProcessor(
		st.uow,
		inventory.NewLedger(st.products),
		sequencer,
		st.sales,
		order.Config{
			VATRate:              vat,
			DefaultPaymentMethod: cfg.Checkout.DefaultPaymentMethod,
			Timeout:              cfg.Checkout.Timeout,
			VerifyTotal:          cfg.Checkout.VerifyTotal,
		},
		procOpts...,
	)
	if err != nil {
		return errors.Wrap(err, "create order processor")
	}
	reports := report.NewService(st.reports, st.sales, report.Config{
		LowStockThreshold: cfg.Reports.LowStockThreshold,
		TopProducts:       cfg.Reports.TopProducts,
		Location:          loc,
	})

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Database.Driver, health.PingCheck(st), health.Options{Timeout: 5 * time.Second})
	healthSvc.AddReadinessCheck("invoice_sequencer",
		health.FlagCheck(sequencer.Ready, "invoice sequencer not initialized"),
		health.Options{FailureThreshold: 1},
	)
	healthSvc.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.Options{Timeout: time.Second})
	healthSvc.Start(ctx, 10*time.Second)

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	handler.NewHandler(
		handler.HandlerConfig{Location: loc},
		st.products,
		processor,
		st.sales,
		reports,
	).Register(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.TillHeader, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Methods: []string{http.MethodPost, http.MethodPut, http.MethodDelete},
			}),
			httpmiddleware.Instrument("pos-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	if cfg.Events.Driver != EventsNone {
		publisher, err := newPublisher(cfg.Events, m)
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		// SQLite has one writer connection and one relay; claiming rows there
		// would hold that connection while the broker is called.
		relay := events.NewRelay(st.uow, st.outbox, publisher, events.RelayConfig{
			Interval:       cfg.Events.PollInterval,
			BatchSize:      cfg.Events.BatchSize,
			Claim:          cfg.Database.Driver == DriverPostgres,
			PublishTimeout: cfg.Events.PublishTimeout,
		})
		g.Go(func() error {
			lg.Info("Outbox relay started", zap.String("driver", cfg.Events.Driver))
			return relay.Run(gCtx)
		})
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

func newPublisher(cfg EventsConfig, m *app.Telemetry) (events.Publisher, error) {
	switch cfg.Driver {
	case EventsKafka:
		return events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			ClientID: cfg.ClientID,
		}, m.TracerProvider())
	case EventsAMQP:
		return events.NewAMQPPublisher(events.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.Exchange,
		})
	default:
		return nil, errors.Errorf("unknown events driver %q", cfg.Driver)
	}
}
