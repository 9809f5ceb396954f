package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rishivishwanath/autocont/config"
	"github.com/rishivishwanath/autocont/handlers"
	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the HTTP API.

POST /generate-minecraft renders a video before responding. POST /api/generate
queues a job whose progress is polled at /api/status/:job_id.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().
		StringP("port", "p", "", "Port to listen on (overrides PORT)")
	serveCmd.Flags().
		String("janitor-schedule", "@every 15m", "Cron schedule for removing stale run directories")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	schedule, _ := cmd.Flags().GetString("janitor-schedule")
	logger.Infow("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, keyPool, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	jobs, sweepJobs, err := newJobStore(cfg)
	if err != nil {
		return err
	}

	janitor, err := startJanitor(schedule, cfg, sweepJobs, logger.With("component", "janitor"))
	if err != nil {
		return err
	}
	defer janitor.Stop()

	videoHandler := handlers.NewVideoHandler(ctx, pipeline, jobs, logger.With("component", "http"))
	if keyPool != nil {
		videoHandler.ReportKeyPool(keyPool)
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestLogger(logger.With("component", "http")))

	// Setup CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	videoHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Warnw("Graceful shutdown failed", "error", err)
			_ = server.Close()
		}

		// async jobs share ctx and stop with it
		videoHandler.Wait()
		return err
	})

	return g.Wait()
}

// newJobStore returns Redis when configured, otherwise an in-memory store and
// its sweep function for the janitor
func newJobStore(cfg *config.Config) (handlers.JobStore, func() int, error) {
	if cfg.RedisURL == "" {
		store := handlers.NewMemoryJobStore(cfg.JobTTL)
		return store, store.Sweep, nil
	}

	rdb, err := handlers.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return handlers.NewRedisJobStore(rdb, cfg.JobTTL), nil, nil
}

func startJanitor(schedule string, cfg *config.Config, sweepJobs func() int, log *logging.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		removed, err := utils.SweepStaleRuns(cfg.TempDir, cfg.StaleRunMaxAge)
		if err != nil {
			log.Warnw("Failed to sweep run directories", "dir", cfg.TempDir, "error", err)
		}
		expired := 0
		if sweepJobs != nil {
			expired = sweepJobs()
		}
		if removed > 0 || expired > 0 {
			log.Infow("Janitor finished", "run_dirs_removed", removed, "jobs_expired", expired)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	c.Start()
	return c, nil
}
