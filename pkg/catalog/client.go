// Package catalog talks to the remote catalog that downloads come from and
// implements the page-by-page transfer the download scheduler runs.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/sethvargo/go-retry"
	"github.com/tankobon/tankobon/pkg/config"
)

const maxPageBytes = 64 << 20

type Options struct {
	BaseURL      string
	ImageBaseURL string
	UserAgent    string
	// Concurrency is the number of pages fetched at once.
	Concurrency int
	MaxAttempts int
	// RetryDelay is the step of the linear backoff between attempts.
	RetryDelay time.Duration
	HTTPClient *http.Client
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:      cfg.CatalogBaseURL,
		ImageBaseURL: cfg.CatalogImageBaseURL,
		UserAgent:    cfg.CatalogUserAgent,
		Concurrency:  cfg.TransferWorkers,
		MaxAttempts:  cfg.TransferAttempts,
		RetryDelay:   cfg.TransferRetryDelay,
	}
}

type Client struct {
	opts Options
	http *http.Client
}

func New(opts Options) *Client {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tankobon"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{opts: opts, http: httpClient}
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// retryable reports whether a response status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// linearBackoff waits step, 2*step, 3*step and so on.
func linearBackoff(step time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	})
}

// get fetches rawURL with bounded retries. Network errors, 429 and 5xx are
// retried; any other status fails immediately.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	log := logger.FromContext(ctx)
	backoff := retry.WithMaxRetries(uint64(c.opts.MaxAttempts-1), linearBackoff(c.opts.RetryDelay))

	var body []byte
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		data, err := c.fetch(ctx, rawURL)
		if err == nil {
			body = data
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !retryable(statusErr.StatusCode) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		log.Warn("request failed, retrying", logger.Data{"url": rawURL, "attempt": attempt, "error": err.Error()})
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed after %d attempt(s)", attempt)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(data) > maxPageBytes {
		return nil, errors.Errorf("GET %s: response larger than %d bytes", rawURL, maxPageBytes)
	}
	return data, nil
}

// FetchGallery looks up a gallery by its catalog id.
func (c *Client) FetchGallery(ctx context.Context, id string) (*Gallery, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("catalog id is required")
	}

	rawURL := fmt.Sprintf("%s/gallery/%s", strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(id))
	data, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch gallery %s", id)
	}

	g := &Gallery{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, errors.Wrapf(err, "failed to parse gallery %s", id)
	}
	if g.MediaID == "" || len(g.Images.Pages) == 0 {
		return nil, errors.Errorf("gallery %s has no pages", id)
	}
	return g, nil
}
