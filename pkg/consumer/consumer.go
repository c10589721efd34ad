package consumer

import "io"

// Consumer materializes a download on the local side.
type Consumer interface {
	// Consume copies reader into destPath starting at offset. An offset of
	// zero replaces any previous content; a positive offset keeps the first
	// offset bytes and appends after them. The returned count is the number
	// of bytes written, also when an error is returned.
	Consume(reader io.Reader, destPath string, offset int64) (int64, error)
	// Discard drops whatever a previous Consume left at destPath so the next
	// attempt starts from an empty file.
	Discard(destPath string) error
}
