package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/downloads"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/sidecar"
	"golang.org/x/sync/errgroup"
)

// Transfer downloads every page of job's gallery into job.DestinationPath,
// along with a metadata.json describing it. Pages already on disk are kept,
// so a paused or failed transfer picks up where it stopped.
func (c *Client) Transfer(ctx context.Context, job *models.DownloadJob, ctl *downloads.Control) error {
	log := logger.FromContext(ctx)

	g, err := c.FetchGallery(ctx, job.CatalogID)
	if err != nil {
		return err
	}

	var artist *string
	if artists := g.Artists(); len(artists) > 0 {
		artist = &artists[0]
	}
	ctl.Update(g.DisplayTitle(), artist)

	if err := os.MkdirAll(job.DestinationPath, 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := sidecar.Write(job.DestinationPath, g.Metadata()); err != nil {
		return err
	}

	total := len(g.Images.Pages)
	missing := make([]int, 0, total)
	for n := 1; n <= total; n++ {
		if !pageExists(filepath.Join(job.DestinationPath, g.PageFilename(n))) {
			missing = append(missing, n)
		}
	}

	var completed atomic.Int64
	completed.Store(int64(total - len(missing)))
	var bytes atomic.Int64
	start := time.Now()
	ctl.Progress(int(completed.Load()), total, 0)

	log.Info("transferring pages", logger.Data{"total": total, "missing": len(missing)})

	var progressMu sync.Mutex
	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		elapsed := time.Since(start).Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(bytes.Load()) / elapsed
		}
		ctl.Progress(int(completed.Load()), total, speed)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.opts.Concurrency)
	for _, n := range missing {
		if ctl.Paused() || egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if ctl.Paused() {
				return nil
			}
			size, err := c.transferPage(egCtx, g, n, job.DestinationPath)
			if err != nil {
				return errors.Wrapf(err, "page %d", n)
			}
			bytes.Add(size)
			completed.Add(1)
			report()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if int(completed.Load()) < total {
		if ctl.Paused() {
			return downloads.ErrPaused
		}
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		return errors.Errorf("only %d of %d pages transferred", completed.Load(), total)
	}
	return nil
}

func (c *Client) transferPage(ctx context.Context, g *Gallery, n int, dir string) (int64, error) {
	data, err := c.get(ctx, g.PageURL(c.opts.ImageBaseURL, n))
	if err != nil {
		return 0, err
	}
	if err := fileutils.WriteFileAtomic(filepath.Join(dir, g.PageFilename(n)), data, 0644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func pageExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
