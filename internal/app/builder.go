package app

import (
	"context"
	"database/sql"
	"time"

	marketdb "bazaar/internal/db/market"
	"bazaar/internal/market"
	"bazaar/internal/memstore"
	"bazaar/internal/notify"
	"bazaar/internal/observability"
	"bazaar/internal/orders"
	"bazaar/internal/orders/saga"
	"bazaar/internal/payments"
	"bazaar/internal/refunds"
	"bazaar/internal/returns"

	"go.uber.org/zap"
)

// Backend names the storage the services ended up on.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Options configure BuildServices. Zero values fall back to in-memory
// collaborators and package defaults.
type Options struct {
	DatabaseURL    string
	Cart           market.CartStore
	Sinks          []market.NotificationSink
	NotifyControls *orders.Controls
	CartControls   *orders.Controls
	PaymentTTL     time.Duration
	Refunds        refunds.Config
	ReturnWindow   time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// CredentialStore sets and checks payment passwords.
type CredentialStore interface {
	market.PasswordVerifier
	SetPassword(ctx context.Context, userID, password string) error
}

// Services is the wired marketplace.
type Services struct {
	Orders      *orders.Service
	Payments    *payments.Service
	Returns     *returns.Workflow
	Products    market.ProductStore
	Refunds     market.RefundStore
	Credentials CredentialStore
	Backend     Backend
}

type stores struct {
	products    market.ProductStore
	orders      market.OrderStore
	payments    market.PaymentStore
	refunds     market.RefundStore
	reviews     market.ReviewStore
	credentials CredentialStore
	sagas       saga.Store
}

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// BuildServices wires the order, payment and return services.
// If the DSN is empty or initialization fails, it falls back to in-memory stores.
// The returned cleanup closes any external resources (e.g., DB connections).
func BuildServices(ctx context.Context, opts Options) (*Services, func()) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cleanup := func() {}
	st, backend := memoryStores(), BackendMemory

	if opts.DatabaseURL != "" {
		sqlDB, err := openDB("pgx", opts.DatabaseURL)
		if err != nil {
			logger.Warn("postgres open failed, falling back to in-memory stores", zap.Error(err))
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := marketdb.InitSchema(setupCtx, sqlDB); err != nil {
				logger.Warn("postgres init failed, falling back to in-memory stores", zap.Error(err))
				_ = sqlDB.Close()
			} else {
				logger.Info("postgres stores enabled")
				st, backend = postgresStores(sqlDB), BackendPostgres
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logger.Warn("close postgres", zap.Error(err))
					}
				}
			}
		}
	}

	var cart market.CartStore = memstore.NewCart()
	if opts.Cart != nil {
		cart = opts.Cart
	}
	if opts.CartControls != nil {
		cart = orders.NewReliableCart(cart, *opts.CartControls)
	}

	var notifier market.NotificationSink = notify.NewFanout(opts.Sinks...)
	if opts.NotifyControls != nil {
		notifier = orders.NewReliableNotifier(notifier, *opts.NotifyControls)
	}

	orderSvc := orders.NewService(orders.Deps{
		Products: st.products,
		Orders:   st.orders,
		Cart:     cart,
		Notifier: notifier,
		Sagas:    st.sagas,
		Metrics:  opts.Metrics,
		Logger:   logger.Named("orders"),
	})
	paymentSvc := payments.NewService(payments.Deps{
		Payments:  st.payments,
		Orders:    st.orders,
		Saga:      orderSvc,
		Passwords: st.credentials,
		Sagas:     st.sagas,
		Metrics:   opts.Metrics,
		Logger:    logger.Named("payments"),
		TTL:       opts.PaymentTTL,
	})
	simulator := refunds.NewSimulator(st.refunds, logger.Named("refunds"), opts.Refunds)
	returnSvc := returns.NewWorkflow(returns.Deps{
		Orders:   st.orders,
		Reviews:  st.reviews,
		Refunder: simulator,
		Refunds:  st.refunds,
		Notifier: notifier,
		Sagas:    st.sagas,
		Metrics:  opts.Metrics,
		Logger:   logger.Named("returns"),
		Window:   opts.ReturnWindow,
	})

	return &Services{
		Orders:      orderSvc,
		Payments:    paymentSvc,
		Returns:     returnSvc,
		Products:    st.products,
		Refunds:     st.refunds,
		Credentials: st.credentials,
		Backend:     backend,
	}, cleanup
}

func memoryStores() stores {
	return stores{
		products:    memstore.NewProducts(),
		orders:      memstore.NewOrders(),
		payments:    memstore.NewPayments(),
		refunds:     memstore.NewRefunds(),
		reviews:     memstore.NewReviews(),
		credentials: memstore.NewCredentials(),
		sagas:       saga.NewMemoryStore(),
	}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		products:    marketdb.NewProductStore(db),
		orders:      marketdb.NewOrderStore(db),
		payments:    marketdb.NewPaymentStore(db),
		refunds:     marketdb.NewRefundStore(db),
		reviews:     marketdb.NewReviewStore(db),
		credentials: marketdb.NewCredentialStore(db),
		sagas:       marketdb.NewSagaStore(db),
	}
}
