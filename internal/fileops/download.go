package fileops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/retry"
)

// HTTPDownloader downloads files with retries. The zero value uses http.DefaultClient and the
// default retry policy.
type HTTPDownloader struct {
	Client *http.Client
	Policy *retry.Policy
}

// Download writes url to dst. The file only appears once the body has been fully received.
// 4xx responses are not retried.
func (h HTTPDownloader) Download(ctx context.Context, url, dst string) error {
	policy := retry.DefaultPolicy()
	if h.Policy != nil {
		policy = *h.Policy
	}
	return policy.Do(ctx, "download "+url, func(ctx context.Context) error {
		return h.fetch(ctx, url, dst)
	})
}

func (h HTTPDownloader) fetch(ctx context.Context, url, dst string) (err error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid download url").
			WithContext("url", url).Build()
	}
	resp, err := client.Do(req)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "download failed").
			WithContext("url", url).Retryable().Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b := ferrors.NetworkError(fmt.Sprintf("download returned %s", resp.Status)).WithContext("url", url)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			b = b.Retryable()
		} else {
			b = b.UserAction()
		}
		return b.Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create download file").Build()
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "download interrupted").
			WithContext("url", url).Retryable().Build()
	}
	if err = tmp.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write download").Build()
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write download").Build()
	}
	observability.InfoContext(ctx, "Downloaded", logfields.URL(url), logfields.Path(dst),
		logfields.Size(humanize.Bytes(uint64(n))))
	return nil
}
