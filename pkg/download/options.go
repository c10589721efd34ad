package download

import (
	"time"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
)

type Options struct {
	// Maximum number of attempts for one download. If set to zero,
	// DefaultMaxAttempts will be used.
	MaxAttempts uint

	// AttemptTimeout bounds a single attempt, response body included. Zero
	// means no limit beyond the caller's context.
	AttemptTimeout time.Duration

	// Wait between attempts follows retryablehttp.DefaultBackoff between
	// these bounds, plus up to RetryJitter of random delay. All zero means
	// retry immediately.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RetryJitter  time.Duration

	// DisableResume makes every retry start from scratch.
	DisableResume bool

	// LimitRate caps the transfer in bytes per second; zero is unlimited.
	LimitRate int64

	// Consumer receives the body. If nil, a consumer.FileWriter is used.
	Consumer consumer.Consumer

	Client client.Options
}
