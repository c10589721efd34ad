package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
)

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().UintP(OptMaxAttempts, "a", download.DefaultMaxAttempts, "Maximum number of attempts for a download, the first one included")
	cmd.PersistentFlags().Duration(OptAttemptTimeout, 0, "Timeout for a single attempt including the body, 0 means no limit (e.g. 10m)")
	cmd.PersistentFlags().Duration(OptConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(OptRetryWaitMin, 100*time.Millisecond, "Minimum wait before retrying")
	cmd.PersistentFlags().Duration(OptRetryWaitMax, 3*time.Second, "Maximum wait before retrying")
	cmd.PersistentFlags().String(OptLimitRate, "", "Limit the transfer to this many bytes per second (e.g. 10M)")
	cmd.PersistentFlags().BoolP(OptForce, "f", false, "Force download, overwriting existing file")
	cmd.PersistentFlags().Bool(OptAtomic, false, "Download to <dest>.part and rename it into place on success")
	cmd.PersistentFlags().Bool(OptNoResume, false, "Always restart from the beginning instead of resuming a short transfer")
	cmd.PersistentFlags().StringSlice(OptResolve, []string{}, "Resolve hostnames to specific IPs")
	cmd.PersistentFlags().BoolP(OptVerbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(OptLoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool(OptForceHTTP2, false, "Force HTTP/2")
	cmd.PersistentFlags().String(OptOutputConsumer, ConsumerFile, "Output consumer (file, null)")

	viper.SetEnvPrefix("RGET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}

	// Hide flags from help, these are intended to be used for testing/internal benchmarking/debugging only
	for _, flag := range []string{OptForceHTTP2, OptOutputConsumer} {
		if err := cmd.PersistentFlags().MarkHidden(flag); err != nil {
			return fmt.Errorf("failed to hide flag %s: %w", flag, err)
		}
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(OptVerbose) {
		viper.Set(OptLoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(OptLoggingLevel))
	return nil
}

func setLogLevel(logLevel string) {
	// Set log-level
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// DownloadOptions assembles download.Options from the bound flags and
// environment.
func DownloadOptions() (download.Options, error) {
	resolveOverrides, err := ResolveOverridesToMap(viper.GetStringSlice(OptResolve))
	if err != nil {
		return download.Options{}, err
	}
	limitRate, err := ParseRate(viper.GetString(OptLimitRate))
	if err != nil {
		return download.Options{}, err
	}
	c, err := GetConsumer()
	if err != nil {
		return download.Options{}, err
	}
	waitMin := viper.GetDuration(OptRetryWaitMin)
	waitMax := viper.GetDuration(OptRetryWaitMax)
	if waitMax < waitMin {
		return download.Options{}, fmt.Errorf("%s (%s) must not be lower than %s (%s)", OptRetryWaitMax, waitMax, OptRetryWaitMin, waitMin)
	}
	maxAttempts := viper.GetUint(OptMaxAttempts)
	if maxAttempts == 0 {
		return download.Options{}, fmt.Errorf("%s must be at least 1", OptMaxAttempts)
	}

	return download.Options{
		MaxAttempts:    maxAttempts,
		AttemptTimeout: viper.GetDuration(OptAttemptTimeout),
		RetryWaitMin:   waitMin,
		RetryWaitMax:   waitMax,
		RetryJitter:    waitMin,
		DisableResume:  viper.GetBool(OptNoResume),
		LimitRate:      limitRate,
		Consumer:       c,
		Client: client.Options{
			ForceHTTP2:       viper.GetBool(OptForceHTTP2),
			ConnectTimeout:   viper.GetDuration(OptConnTimeout),
			ResolveOverrides: resolveOverrides,
		},
	}, nil
}

// GetConsumer returns the consumer selected with --output.
func GetConsumer() (consumer.Consumer, error) {
	consumerName := viper.GetString(OptOutputConsumer)
	switch consumerName {
	case ConsumerFile, "":
		return &consumer.FileWriter{}, nil
	case ConsumerNull:
		return &consumer.NullWriter{}, nil
	default:
		return nil, fmt.Errorf("invalid consumer specified: %s", consumerName)
	}
}

// ParseRate turns a human readable byte rate such as "10M" into bytes per
// second. An empty string means no limit.
func ParseRate(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	rate, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", OptLimitRate, s, err)
	}
	return int64(rate), nil
}

// ResolveOverridesToMap parses --resolve entries of the form host:port:ip
// into a map of host:port to ip:port.
func ResolveOverridesToMap(resolveOverrides []string) (map[string]string, error) {
	logger := logging.GetLogger()
	resolveOverrideMap := make(map[string]string)

	if len(resolveOverrides) == 0 {
		return nil, nil
	}

	for _, resolveHost := range resolveOverrides {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		hostPort := net.JoinHostPort(host, port)
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		target := net.JoinHostPort(addr, port)
		if existing, ok := resolveOverrideMap[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", host)
		}
		resolveOverrideMap[hostPort] = target
	}
	if logger.GetLevel() == zerolog.DebugLevel {
		for key, elem := range resolveOverrideMap {
			logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
		}
	}
	return resolveOverrideMap, nil
}
