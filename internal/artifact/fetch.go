package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	Logger       *slog.Logger
}

// Fetcher downloads model artifacts that are not present locally.
type Fetcher struct {
	client *resty.Client
	logger *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	if opts.RetryMaxWait < opts.RetryWait {
		opts.RetryMaxWait = 10 * opts.RetryWait
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	return &Fetcher{client: client, logger: opts.Logger}
}

// Ensure makes sure path exists, downloading it from url when it does not.
// The download lands in a temporary file that is renamed into place only
// once complete. It reports whether a download happened.
func (f *Fetcher) Ensure(ctx context.Context, path, url string) (bool, error) {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return false, apperrors.New(apperrors.KindArtifact, "ensure", fmt.Sprintf("%s is a directory", path))
		}
		f.logger.Info("model already downloaded", "path", path)
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, apperrors.Wrap(apperrors.KindArtifact, "ensure", "stat model", err)
	}

	if url == "" {
		return false, apperrors.New(apperrors.KindArtifact, "ensure",
			fmt.Sprintf("model %s not found and no download URL configured", path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, apperrors.Wrap(apperrors.KindArtifact, "ensure", "create model directory", err)
	}

	tmp := path + ".part"
	f.logger.Info("downloading model", "url", url, "path", path)
	start := time.Now()

	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(tmp).
		Get(url)
	if err != nil {
		os.Remove(tmp)
		return false, apperrors.Wrap(apperrors.KindArtifact, "download", "request failed", err)
	}
	if resp.IsError() {
		os.Remove(tmp)
		return false, apperrors.New(apperrors.KindArtifact, "download",
			fmt.Sprintf("unexpected status %d from %s", resp.StatusCode(), url))
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, apperrors.Wrap(apperrors.KindArtifact, "download", "move model into place", err)
	}

	f.logger.Info("model downloaded", "path", path, "duration", time.Since(start))
	return true, nil
}
