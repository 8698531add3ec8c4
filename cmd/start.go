package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"economy-store/core/config"
	"economy-store/core/dispatch"
	"economy-store/core/logger"
	"economy-store/core/mongodb"
	"economy-store/core/storage"
	"economy-store/feature/economy"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the economy store service",
	Long:  `Connects to the document store and serves the health/status endpoint.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Configuration
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 3. Task Dispatcher
		disp := dispatch.New(logg)
		defer disp.Shutdown()

		// 4. Connect to the Document Store (Optional at startup)
		// A failed initial connect is not fatal: the manager keeps
		// reconnecting in the background and reads fall back to cached or
		// default values until the store comes back.
		conn := mongodb.NewManager(cfg.Database, logg, disp)
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ConnectTimeout())
		if err := conn.Connect(ctx); err != nil {
			logg.Warn("Initial store connection failed, serving degraded", zap.Error(err))
		} else {
			logg.Info("Connected to document store", zap.String("database", cfg.Database.Name))
		}
		cancel()
		defer conn.Disconnect(context.Background())

		// 5. Repository Facade
		repo, err := economy.NewRepository(cfg.Economy, cfg.Cache, conn, disp, logg)
		if err != nil {
			logg.Fatal("Failed to build repository", zap.Error(err))
		}
		defer repo.Close()

		// 6. Ledger Archiver (Optional)
		if cfg.Archive.Enabled {
			store, err := storage.NewClient(cfg.Storage)
			if err != nil {
				logg.Fatal("Failed to create storage client", zap.Error(err))
			}
			archiver := economy.NewArchiver(cfg.Archive, cfg.Economy, conn, store, disp, logg)
			archiver.Start()
			defer archiver.Stop()
			logg.Info("Ledger archiver enabled",
				zap.String("bucket", cfg.Archive.Bucket),
				zap.Int("older_than_days", cfg.Archive.OlderThanDays))
		}

		if !cfg.Server.Enabled {
			logg.Info("HTTP surface disabled, running headless")
			waitForSignal(logg)
			return
		}

		// 7. Health/Status HTTP Surface
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
		})

		started := time.Now()
		app.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"status":         "ok",
				"store":          conn.State().String(),
				"database":       conn.DatabaseName(),
				"caches":         repo.CacheStats(),
				"uptime_seconds": int64(time.Since(started).Seconds()),
			})
		})

		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		waitForSignal(logg)
		_ = app.Shutdown()
	},
}

func waitForSignal(logg *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logg.Info("Shutting down...")
}

func init() {
	RootCmd.AddCommand(startCmd)
}
