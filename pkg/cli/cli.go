package cli

import (
	"context"

	"github.com/snoutos/switchboard/pkg/cli/config"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Run executes the switchboard command line with the given arguments.
func Run(ctx context.Context, args []string, version string) error {
	var loggerCfg config.Logger
	var closeLogger func()

	root := &cli.Command{
		Name:    "switchboard",
		Usage:   "SMS routing and delivery for masked-number conversations",
		Version: version,
		Flags:   loggerCfg.Flags(),
		Commands: []*cli.Command{
			cmdServe(),
			cmdMigrate(),
			cmdSeed(),
			cmdSimulate(),
			cmdValidate(),
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			f, err := loggerCfg.Configure()
			if err != nil {
				return ctx, err
			}
			closeLogger = f

			logger := logging.Default().With("version", version)
			if len(c.Args().Slice()) > 0 {
				logger = logger.With("command", c.Args().First())
			}
			logger.Debug("switchboard starting", "logger", loggerCfg)
			return logging.With(ctx, logger), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if closeLogger != nil {
				closeLogger()
			}
			return nil
		},
	}

	if err := root.Run(ctx, args); err != nil {
		return errutil.Handle(ctx, err, "switchboard exited with error")
	}
	return nil
}
