package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/cache"
	"github.com/GTDGit/bakery_api/internal/config"
	"github.com/GTDGit/bakery_api/internal/database"
	"github.com/GTDGit/bakery_api/internal/handler"
	"github.com/GTDGit/bakery_api/internal/middleware"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/service"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// stores is the set of persistence dependencies for one storage driver.
type stores struct {
	users      service.UserStore
	directory  service.UserDirectory
	checkout   service.CheckoutStore
	sales      service.SaleReader
	products   service.ProductStore
	categories service.CategoryStore
}

// main is the application entrypoint for the bakery API.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Str("storage", cfg.StorageDriver).Msg("starting bakery api")

	// Money is rendered as JSON numbers, e.g. 113.28 rather than "113.28".
	decimal.MarshalJSONWithoutQuotes = true
	utils.SetJWTConfig(cfg.JWTSecret, cfg.JWTTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.HealthCheck{}

	// 3. Storage
	var st stores
	switch cfg.StorageDriver {
	case config.StorageMemory:
		mem := repository.NewMemoryStore(cfg.Sales.LockTimeout)
		st = stores{users: mem, directory: mem, checkout: mem, sales: mem, products: mem, categories: mem}
		log.Warn().Msg("using in-memory storage, data is lost on restart")
	default:
		db, err := database.Connect(&cfg.DB)
		if err != nil {
			log.Error().Err(err).Msg("database connection failed")
			fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		// 3a. Run migrations
		if err := database.Migrate(db.DB, cfg.MigrationsPath); err != nil {
			log.Error().Err(err).Msg("migration failed")
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		log.Info().Msg("migrations completed successfully")

		st = postgresStores(db, cfg.Sales.LockTimeout)
		checks["database"] = db.PingContext
	}

	// 4. Optional Redis sale cache
	var saleCache service.SaleDetailCache
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable - sale detail cache disabled")
		} else {
			defer redisClient.Close()
			saleCache = cache.NewSaleCache(redisClient, cfg.Redis.SaleCacheTTL)
			checks["redis"] = redisClient.Ping
			log.Info().Msg("redis connected successfully")
		}
	}

	// 5. Initialize services
	authSvc := service.NewAuthService(st.users)
	catalogSvc := service.NewCatalogService(st.products, st.categories)
	saleQuerySvc := service.NewSaleQueryService(st.sales, saleCache)
	saleSvc := service.NewSaleService(
		st.directory,
		st.checkout,
		saleQuerySvc,
		utils.PickupCodeGenerator{},
		cfg.Sales.DefaultTaxRate,
		cfg.Sales.CheckoutTimeout,
	)

	if cfg.SeedDemoData || cfg.StorageDriver == config.StorageMemory {
		if err := service.SeedDemoData(ctx, authSvc, catalogSvc); err != nil {
			log.Error().Err(err).Msg("seeding demo data failed")
		}
	}

	// 6. Initialize handlers and middleware
	handlers := &handler.Handlers{
		Health:   handler.NewHealthHandler(cfg.StorageDriver, checks),
		Auth:     handler.NewAuthHandler(authSvc),
		Sale:     handler.NewSaleHandler(saleSvc, saleQuerySvc),
		Product:  handler.NewProductHandler(catalogSvc),
		Category: handler.NewCategoryHandler(catalogSvc),
	}
	jwtMw := middleware.NewJWTMiddleware()
	loginLimiter := middleware.NewInvalidAuthRateLimiter(ctx, cfg.LoginMaxFailures, cfg.LoginWindow)

	// 7. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.LoggingMiddleware())
	handler.SetupRoutes(router, handlers, jwtMw.Handle(), loginLimiter.Handle())

	// 8. Start HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 9. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// 10. Shutdown HTTP server with timeout; in-flight checkouts finish or
	// roll back within their own deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Sales.CheckoutTimeout+5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func postgresStores(db *sqlx.DB, lockTimeout time.Duration) stores {
	userRepo := repository.NewUserRepository(db)
	saleRepo := repository.NewSaleRepository(db, lockTimeout)
	return stores{
		users:      userRepo,
		directory:  userRepo,
		checkout:   saleRepo,
		sales:      saleRepo,
		products:   repository.NewProductRepository(db),
		categories: repository.NewCategoryRepository(db),
	}
}

func setupLogger(env, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if env != "production" && level == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
