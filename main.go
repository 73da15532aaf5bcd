package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"listing_dedup/config"
	"listing_dedup/lock"
	"listing_dedup/logging"
	"listing_dedup/services"
	"listing_dedup/storage"
)

var (
	cfg     *config.Config
	logFile *logging.RotatingWriter
)

var rootCmd = &cobra.Command{
	Use:   "listing_dedup",
	Short: "Duplicate detection for collected real-estate listings",
	Long: `listing_dedup finds re-appearances of the same real-estate listing among
collected records and links every duplicate to its canonical (oldest) record.

Storage is Postgres when DATABASE_URL is set, otherwise a local SQLite file
at DB_PATH.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags | log.Lshortfile)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFile, err = logging.Setup(cfg.LogPath, 0)
		if err != nil {
			log.Printf("Warning: could not set up file logging: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise
func openStore(ctx context.Context) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return store, nil
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return store, nil
}

func newService(store storage.Store) (*services.DedupService, error) {
	svc, err := services.NewDedupService(store, cfg.Dedup)
	if err != nil {
		return nil, err
	}
	svc.SetScanRate(cfg.ScanRateLimit)
	return svc, nil
}

// newSweepLock uses redis when REDIS_ADDR is set so sweeps are exclusive
// across processes
func newSweepLock(ctx context.Context) (services.SweepLock, func(), error) {
	if cfg.Redis.Addr == "" {
		return &lock.Local{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Printf("Sweep lock: redis %s", cfg.Redis.Addr)
	return lock.NewRedisLock(rdb, "sweep", cfg.Redis.LockTTL), func() { rdb.Close() }, nil
}

// newArchive uses S3 when a bucket is configured, else reportDir when set.
// A nil archive disables report archiving.
func newArchive(ctx context.Context, reportDir string) (storage.ReportArchive, error) {
	if cfg.S3.Bucket != "" {
		archive, err := storage.NewS3Archive(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 archive: %w", err)
		}
		log.Printf("Scan reports: s3://%s", cfg.S3.Bucket)
		return archive, nil
	}
	if reportDir != "" {
		return storage.DirArchive{Root: reportDir}, nil
	}
	return nil, nil
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
