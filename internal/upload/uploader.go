package upload

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/retry"
)

// Uploader executes upload plans.
type Uploader struct {
	Dialer Dialer
	Policy retry.Policy
}

// Run uploads every batch, one connection per login. Each transfer is retried according to
// Policy; the connection is re-established when a transfer fails.
func (u *Uploader) Run(ctx context.Context, batches []Batch) (int, error) {
	uploaded := 0
	for _, b := range batches {
		login := b.User + "@" + b.Host
		var client Client
		for _, item := range b.Items {
			err := u.Policy.Do(ctx, "upload "+item.Remote, func(ctx context.Context) error {
				if client == nil {
					c, err := u.Dialer.Dial(ctx, b.User, b.Host)
					if err != nil {
						return err
					}
					client = c
				}
				if err := client.Put(ctx, item.Local, item.Remote); err != nil {
					_ = client.Close()
					client = nil
					return err
				}
				return nil
			})
			if err != nil {
				if client != nil {
					_ = client.Close()
				}
				return uploaded, err
			}
			uploaded++
			attrs := []slog.Attr{logfields.Host(login), logfields.Path(item.Remote)}
			if info, statErr := os.Stat(item.Local); statErr == nil {
				attrs = append(attrs, logfields.Size(humanize.Bytes(uint64(info.Size()))))
			}
			observability.InfoContext(ctx, "Uploaded", attrs...)
		}
		if client != nil {
			_ = client.Close()
		}
	}
	return uploaded, nil
}
