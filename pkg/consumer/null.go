package consumer

import (
	"io"
)

// NullWriter reads everything and keeps nothing. Useful for measuring
// throughput without disk I/O.
type NullWriter struct{}

var _ Consumer = &NullWriter{}

func (NullWriter) Consume(reader io.Reader, destPath string, offset int64) (int64, error) {
	return io.Copy(io.Discard, reader)
}

func (NullWriter) Discard(destPath string) error {
	return nil
}
