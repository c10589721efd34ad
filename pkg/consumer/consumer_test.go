package consumer_test

import (
	"math/rand"
)

const kB = 1024

// generateTestContent generates a byte slice of random content
func generateTestContent(size int64) []byte {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(rand.Intn(256))
	}
	return content
}
