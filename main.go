package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	appcheckout "github.com/zestmarket/marketplace/internal/application/checkout"
	appfulfillment "github.com/zestmarket/marketplace/internal/application/fulfillment"
	apppayment "github.com/zestmarket/marketplace/internal/application/payment"
	appsettlement "github.com/zestmarket/marketplace/internal/application/settlement"
	"github.com/zestmarket/marketplace/internal/config"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/domain/order"
	domainpayment "github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/infrastructure/id"
	"github.com/zestmarket/marketplace/internal/infrastructure/kafka"
	"github.com/zestmarket/marketplace/internal/infrastructure/memory"
	"github.com/zestmarket/marketplace/internal/infrastructure/observability/oteltrace"
	"github.com/zestmarket/marketplace/internal/infrastructure/observability/prometrics"
	"github.com/zestmarket/marketplace/internal/infrastructure/observability/telemetry"
	"github.com/zestmarket/marketplace/internal/infrastructure/observability/zaplogger"
	"github.com/zestmarket/marketplace/internal/infrastructure/outbox"
	"github.com/zestmarket/marketplace/internal/infrastructure/postgres"
	"github.com/zestmarket/marketplace/internal/infrastructure/simgw"
	"github.com/zestmarket/marketplace/internal/infrastructure/stripegw"
	"github.com/zestmarket/marketplace/internal/observability"
	httppresentation "github.com/zestmarket/marketplace/internal/presentation/http"
)

// stores groups the persistence ports so memory and postgres wiring stay
// symmetric.
type stores struct {
	catalog  catalog.Repository
	coupons  coupon.Repository
	orders   order.Repository
	payments domainpayment.Repository
	payouts  payout.Repository
	checkout appcheckout.Store
	cancel   appfulfillment.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("version", cfg.ServiceVersion),
		observability.F("env", cfg.Environment),
	)

	registry := prometrics.New(cfg.ServiceName, "")
	tel := telemetry.New(
		oteltrace.New(cfg.ServiceName),
		logger,
		map[string]observability.Counter{
			observability.MUsecaseRequests: registry.Counter(observability.MUsecaseRequests,
				"Total number of use case invocations.", "use_case", "outcome"),
			observability.MHTTPRequests: registry.Counter(observability.MHTTPRequests,
				"Total number of HTTP requests.", "method", "route", "status"),
			observability.MExternalRequests: registry.Counter(observability.MExternalRequests,
				"Total number of calls to external peers.", "peer", "endpoint", "outcome"),
		},
		map[string]observability.Histogram{
			observability.MUsecaseDuration: registry.Histogram(observability.MUsecaseDuration,
				"Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
			observability.MHTTPRequestDuration: registry.Histogram(observability.MHTTPRequestDuration,
				"Duration of HTTP requests in seconds.", prometheus.DefBuckets, "method", "route", "status"),
			observability.MExternalRequestDuration: registry.Histogram(observability.MExternalRequestDuration,
				"Duration of calls to external peers in seconds.", prometheus.DefBuckets, "peer", "endpoint"),
		},
	)
	log := tel.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Error("store_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	bus := outbox.NewBus(tel)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, tel)
		if err != nil {
			log.Error("kafka_init_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		defer producer.Close()
		producer.Register(bus)
		log.Info("kafka_mirror_enabled", observability.F("topic", cfg.KafkaTopic))
	}

	var gateway domainpayment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = stripegw.New(cfg.StripeSecretKey)
	} else {
		gateway = simgw.New()
		log.Info("payment_gateway_simulated")
	}

	idGen := id.NewGenerator()
	pricing := appcheckout.Pricing{
		Currency:              cfg.Currency,
		TaxRate:               cfg.TaxRate,
		ShippingFee:           cfg.ShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}

	checkoutUC := appcheckout.NewUseCase(st.checkout, st.catalog, st.coupons, idGen, idGen, bus, pricing, tel)
	validateCouponUC := appcheckout.NewValidateCouponUseCase(st.coupons, pricing, tel)
	getOrderUC := appcheckout.NewGetOrderUseCase(st.orders)
	createIntentUC := apppayment.NewCreateIntentUseCase(
		st.orders, st.payments, gateway, idGen, bus, cfg.GatewayTimeout, cfg.GatewayMaxRetries, tel)
	confirmUC := apppayment.NewConfirmUseCase(st.orders, st.payments, bus, tel)
	settleUC := appsettlement.NewSettleUseCase(
		st.orders, st.catalog, st.payouts, idGen, bus, cfg.PlatformCommissionRate, tel)
	fulfillmentUC := appfulfillment.NewUseCase(
		st.orders, st.cancel, st.payments, st.payouts, idGen, bus, tel)

	appsettlement.NewWorker(bus, settleUC, tel).Start()

	sweeper := appfulfillment.NewSweepWorker(
		st.orders, fulfillmentUC, cfg.UnpaidOrderTTL, cfg.AutoDeliverAfter, cfg.SweepInterval, tel)
	go sweeper.Run(ctx)

	handler := httppresentation.NewHandler(
		checkoutUC, validateCouponUC, getOrderUC,
		createIntentUC, confirmUC, fulfillmentUC,
		st.payouts, log, tel, prometheus.DefaultGatherer,
		cfg.StripeWebhookSecret,
	)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler.Router(),
	}

	go func() {
		log.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", observability.F("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		log.Info("http_server_stopped")
	}
}

func buildStores(ctx context.Context, cfg *config.Config, log observability.Logger) (*stores, func(), error) {
	if cfg.DatabaseURL == "" {
		catalogRepo := memory.NewCatalogRepository()
		orderRepo := memory.NewOrderRepository()
		store := memory.NewCheckoutStore(catalogRepo, orderRepo)
		st := &stores{
			catalog:  catalogRepo,
			coupons:  memory.NewCouponRepository(),
			orders:   orderRepo,
			payments: memory.NewPaymentRepository(),
			payouts:  memory.NewPayoutRepository(),
			checkout: store,
			cancel:   store,
		}
		if cfg.InitialStock > 0 {
			if err := seedDemoCatalog(ctx, catalogRepo, cfg.InitialStock); err != nil {
				return nil, nil, err
			}
			log.Info("demo_catalog_seeded", observability.F("stock", cfg.InitialStock))
		}
		log.Info("storage_memory")
		return st, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	store := postgres.NewCheckoutStore(pool)
	st := &stores{
		catalog:  postgres.NewCatalogRepository(pool),
		coupons:  postgres.NewCouponRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
		payments: postgres.NewPaymentRepository(pool),
		payouts:  postgres.NewPayoutRepository(pool),
		checkout: store,
		cancel:   store,
	}
	log.Info("storage_postgres")
	return st, pool.Close, nil
}

// seedDemoCatalog puts one seller and one product in the in-memory catalog so
// a fresh binary can take a checkout immediately.
func seedDemoCatalog(ctx context.Context, repo catalog.Repository, stock int) error {
	if err := repo.SaveSeller(ctx, &catalog.Seller{
		ID:       "seller-demo",
		ShopName: "Demo Shop",
		PayoutDetails: catalog.PayoutDetails{
			Method:     "bank_transfer",
			AccountRef: "demo-account",
		},
		Active: true,
	}); err != nil {
		return err
	}
	return repo.SaveProduct(ctx, &catalog.Product{
		ID:       "product-demo",
		SellerID: "seller-demo",
		Title:    "Demo Product",
		SKU:      "DEMO-001",
		Price:    decimal.NewFromFloat(19.90),
		Stock:    stock,
		Active:   true,
	})
}
