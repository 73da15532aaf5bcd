package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"listing_dedup/api"
	"listing_dedup/scheduler"
	"listing_dedup/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled sweeps",
	Long: `Serve the check, scan and stats operations over HTTP on HTTP_ADDR and run
sweeps on SCAN_CRON (or every SCAN_INTERVAL) until interrupted.

Endpoints:
  POST /api/check      check one listing
  POST /api/scan       run a sweep (409 while another sweep runs)
  GET  /api/stats      duplicate statistics
  GET  /api/runs/:id   audit record of a sweep
  GET  /metrics        prometheus metrics
  GET  /healthz        store health

Send SIGHUP to run a sweep immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reportDir, _ := cmd.Flags().GetString("report-dir")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		svc, err := newService(store)
		if err != nil {
			return err
		}
		log.Printf("Dedup options: %s", svc.Options())

		sweepLock, closeLock, err := newSweepLock(ctx)
		if err != nil {
			return err
		}
		defer closeLock()

		archive, err := newArchive(ctx, reportDir)
		if err != nil {
			return err
		}
		sweeper := services.NewSweeper(svc, sweepLock, archive)

		sched := scheduler.New(cfg.Scheduler, sweeper, services.ScanOptions{})
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()

		// SIGHUP runs a sweep right away
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					log.Println("SIGHUP received, triggering sweep")
					sched.Trigger()
				case <-ctx.Done():
					return
				}
			}
		}()

		if !cfg.Debug() {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := api.NewServer(svc, sweeper, store)
		if err := srv.Serve(ctx, cfg.HTTPAddr); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		log.Println("Shutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("report-dir", "", "Directory for scan reports when no S3 bucket is configured")
	rootCmd.AddCommand(serveCmd)
}
