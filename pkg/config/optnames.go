package config

const (
	OptAtomic         = "atomic"
	OptAttemptTimeout = "attempt-timeout"
	OptConnTimeout    = "connect-timeout"
	OptForce          = "force"
	OptForceHTTP2     = "force-http2"
	OptLimitRate      = "limit-rate"
	OptLoggingLevel   = "log-level"
	OptMaxAttempts    = "max-attempts"
	OptNoResume       = "no-resume"
	OptOutputConsumer = "output"
	OptResolve        = "resolve"
	OptRetryWaitMax   = "retry-wait-max"
	OptRetryWaitMin   = "retry-wait-min"
	OptVerbose        = "verbose"
)

const (
	ConsumerFile = "file"
	ConsumerNull = "null"
)
