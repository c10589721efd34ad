package rget

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
)

// PartialSuffix is appended to the destination while an atomic download is in
// progress.
const PartialSuffix = ".part"

type Getter struct {
	Downloader download.Strategy
	// Atomic downloads into dest+PartialSuffix and renames it into place only
	// once the transfer succeeded, so dest never holds a partial file.
	Atomic bool
}

func (g *Getter) DownloadFile(ctx context.Context, url string, dest string) (download.DownloadResult, time.Duration, error) {
	logger := logging.GetLogger()
	target := dest
	if g.Atomic {
		target = dest + PartialSuffix
	}

	downloadStartTime := time.Now()
	result, err := g.Downloader.Download(ctx, url, target)
	if err != nil {
		return result, 0, err
	}
	if g.Atomic {
		if err := consumer.Finalize(target, dest); err != nil {
			return result, 0, err
		}
	}
	totalElapsed := time.Since(downloadStartTime)

	size := humanize.Bytes(result.TotalBytesWritten)
	throughput := humanize.Bytes(uint64(float64(result.TotalBytesWritten) / totalElapsed.Seconds()))
	logger.Info().
		Str("dest", dest).
		Str("size", size).
		Uint("attempts", result.AttemptsUsed).
		Str("throughput", fmt.Sprintf("%s/s", throughput)).
		Str("total_elapsed", fmt.Sprintf("%.3fs", totalElapsed.Seconds())).
		Msg("Complete")
	return result, totalElapsed, nil
}

// RemovePartial deletes what an unsuccessful atomic download left behind.
func (g *Getter) RemovePartial(dest string) error {
	if !g.Atomic {
		return nil
	}
	err := os.Remove(dest + PartialSuffix)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing partial download: %w", err)
	}
	return nil
}
