package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tankobon/tankobon/pkg/catalog"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/downloads"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pool"
	"github.com/tankobon/tankobon/pkg/scan"
	"github.com/tankobon/tankobon/pkg/server"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/tankobon/tankobon/pkg/version"
	"github.com/tankobon/tankobon/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting tankobon", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initDirs(cfg.ThumbnailDir, cfg.DownloadDir); err != nil {
		log.Err(err).Fatal("directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	size := cfg.WorkerPoolSize
	if size < 1 {
		size = pool.DefaultSize(ctx)
	}
	thumbnails, err := pool.New(size, thumbnail.NewWorker(thumbnail.Options{
		Width:   cfg.ThumbnailWidth,
		Height:  cfg.ThumbnailHeight,
		Quality: cfg.ThumbnailQuality,
	}))
	if err != nil {
		log.Err(err).Fatal("thumbnail pool error")
	}
	log.Info("thumbnail pool started", logger.Data{"size": size})

	scanner := scan.New(db, thumbnails, scan.OptionsFromConfig(cfg))
	hub := events.NewHub()
	client := catalog.New(catalog.OptionsFromConfig(cfg))

	opts := downloads.OptionsFromConfig(cfg)
	opts.Transfer = client.Transfer
	opts.Broadcaster = hub
	opts.OnComplete = func(ctx context.Context, job *models.DownloadJob) {
		if _, err := scanner.ScanOne(ctx, job.DestinationPath); err != nil {
			logger.FromContext(ctx).Err(err).Error("failed to import completed download", logger.Data{"download_id": job.ID})
		}
	}
	scheduler := downloads.NewScheduler(db, opts)

	wrkr := worker.New(cfg, db, scanner, hub)

	srv, err := server.New(cfg, db, server.Dependencies{Scheduler: scheduler, Hub: hub})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", srv.Addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}
		log.Info("server started", logger.Data{"addr": listener.Addr().String()})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	if err := scheduler.Start(log.WithContext(ctx)); err != nil {
		log.Err(err).Fatal("download scheduler error")
	}
	log.Info("download scheduler started")

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	scheduler.Shutdown()
	log.Info("download scheduler shutdown")

	thumbnails.Close()
	thumbnail.CleanupTempDir()
	log.Info("thumbnail pool closed")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initDirs creates each directory and verifies it is writable.
func initDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}

		testFile := filepath.Join(dir, ".write_test")
		f, err := os.Create(testFile)
		if err != nil {
			return errors.Wrapf(err, "directory is not writable: %s", dir)
		}
		f.Close()

		if err := os.Remove(testFile); err != nil {
			return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
		}
	}
	return nil
}
