// Package thumbnail renders cover thumbnails. Generation is CPU-bound, so it
// is meant to run on pool workers built with NewWorker.
package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/pool"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

type Request struct {
	BookID          int
	SourcePath      string
	DestinationPath string
}

type Options struct {
	Width   int
	Height  int
	Quality int
}

// Pool is a worker pool that turns Requests into written thumbnail paths.
type Pool = pool.Pool[Request, string]

var (
	tempDirOnce sync.Once
	tempDir     string
	tempDirErr  error
)

// TempDir is a directory owned by this process for cover pages extracted out
// of archives. Sources inside it are deleted once their thumbnail is written.
func TempDir() (string, error) {
	tempDirOnce.Do(func() {
		tempDir, tempDirErr = os.MkdirTemp("", "tankobon-")
		tempDirErr = errors.WithStack(tempDirErr)
	})
	return tempDir, tempDirErr
}

// CleanupTempDir removes the process temp dir if it was created.
func CleanupTempDir() {
	if dir, err := TempDir(); err == nil {
		_ = os.RemoveAll(dir)
	}
}

// DestinationPath is where the thumbnail for bookID lives.
func DestinationPath(dir string, bookID int) string {
	return filepath.Join(dir, strconv.Itoa(bookID)+".jpg")
}

// NewWorker returns a pool SpawnFunc whose workers run Generate.
func NewWorker(opts Options) pool.SpawnFunc[Request, string] {
	return pool.Serve(func(req Request) (string, error) {
		if err := Generate(req, opts); err != nil {
			return "", err
		}
		return req.DestinationPath, nil
	})
}

// Generate reads the source image, scales it to fit inside the configured box
// and writes it as a JPEG to the destination. Sources extracted into TempDir
// are removed afterwards; failing to remove one is logged, not returned.
func Generate(req Request, opts Options) error {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return errors.WithStack(err)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s", req.SourcePath)
	}

	bounds := src.Bounds()
	w, h := fitDimensions(bounds.Dx(), bounds.Dy(), opts.Width, opts.Height)
	if w < 1 || h < 1 {
		return errors.Errorf("image %s has no pixels", req.SourcePath)
	}

	// JPEG has no alpha, so transparent pages are flattened onto white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return errors.WithStack(err)
	}

	if err := fileutils.WriteFileAtomic(req.DestinationPath, buf.Bytes(), 0644); err != nil {
		return err
	}

	removeExtractedSource(req)
	return nil
}

func removeExtractedSource(req Request) {
	dir, err := TempDir()
	if err != nil {
		return
	}
	if filepath.Clean(req.SourcePath) == filepath.Clean(req.DestinationPath) {
		return
	}
	if !fileutils.IsUnder(req.SourcePath, dir) {
		return
	}
	if err := os.Remove(req.SourcePath); err != nil && !os.IsNotExist(err) {
		logger.New().Warn("failed to remove extracted cover", logger.Data{
			"path":  req.SourcePath,
			"error": err.Error(),
		})
	}
}

// fitDimensions scales src down to fit inside max, keeping its aspect ratio.
// Images that already fit are left at their size.
func fitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 || (srcW <= maxW && srcH <= maxH) {
		return srcW, srcH
	}

	ratioW := float64(maxW) / float64(srcW)
	ratioH := float64(maxH) / float64(srcH)

	ratio := ratioW
	if ratioH < ratioW {
		ratio = ratioH
	}

	w, h := int(float64(srcW)*ratio), int(float64(srcH)*ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
