package root

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/config"
	"github.com/replicate/rget/pkg/download"
)

const rootLongDesc = `
rget

rget downloads a single file over HTTP(S) and keeps going when the connection does not. Every attempt is checked
against what the server promised: a body that ends before its Content-Length is resumed with a Range request, a body
without a Content-Length that breaks off is discarded and fetched again, and a server that sends more than it declared
or answers with an error status stops the download at once.

The number of attempts is bounded (--max-attempts, the first attempt included). When the budget is used up rget exits
non-zero and the destination may hold a partial file; use --atomic to download into <dest>.part and only rename it into
place once the transfer is complete.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rget [flags] <url> <dest>",
		Short: "rget",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE:    runRootCMD,
		Args:    cobra.ExactArgs(2),
		Example: `  rget https://example.com/model.safetensors model.safetensors`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	urlString := args[0]
	dest := args[1]

	log.Info().Str("url", urlString).
		Str("dest", dest).
		Uint("max_attempts", viper.GetUint(config.OptMaxAttempts)).
		Msg("Initiating")

	if err := cli.EnsureDestinationNotExist(dest); err != nil {
		return err
	}

	if err := rootExecute(cmd.Context(), urlString, dest); err != nil {
		return err
	}

	return nil
}

// rootExecute is the main function of the program and encapsulates the general logic
// returns any/all errors to the caller.
func rootExecute(ctx context.Context, urlString, dest string) error {
	downloadOpts, err := config.DownloadOptions()
	if err != nil {
		return err
	}

	getter := rget.Getter{
		Downloader: download.NewController(downloadOpts),
		Atomic:     viper.GetBool(config.OptAtomic) && viper.GetString(config.OptOutputConsumer) != config.ConsumerNull,
	}

	pidFile, err := cli.NewPIDFile(cli.LockPath(dest))
	if err != nil {
		return err
	}
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			log.Warn().Err(err).Msg("Releasing lock")
		}
	}()

	// another process may have finished dest while we waited on the lock
	if err := cli.EnsureDestinationNotExist(dest); err != nil {
		return err
	}

	_, _, err = getter.DownloadFile(ctx, urlString, dest)
	if err != nil {
		if rmErr := getter.RemovePartial(dest); rmErr != nil {
			log.Warn().Err(rmErr).Msg("Cleanup")
		}
		return err
	}
	return nil
}
