package download

import (
	"context"
)

// Strategy materializes a single URL at a destination path.
type Strategy interface {
	Download(ctx context.Context, url, dest string) (DownloadResult, error)
}
