package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/cli/config"
	"github.com/snoutos/switchboard/pkg/service/policy"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var fileCfg config.File

	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the configuration file",
		Flags:   fileCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			if fileCfg.Path() == "" {
				return goerr.New("--config is required")
			}

			appCfg, err := fileCfg.Load()
			if err != nil {
				return goerr.Wrap(err, "configuration validation failed")
			}

			if _, err := policy.NewDetector(appCfg.Policy.Patterns...); err != nil {
				return goerr.Wrap(err, "policy patterns are invalid")
			}
			logger.Info("Policy patterns validated", "extra_patterns", len(appCfg.Policy.Patterns))

			if appCfg.Seed == nil {
				logger.Info("No seed section")
				return nil
			}

			logger.Info("Seed validated",
				"org_id", appCfg.Seed.OrgID,
				"numbers", len(appCfg.Seed.Numbers),
				"contacts", len(appCfg.Seed.Contacts),
				"sitters", len(appCfg.Seed.Sitters),
				"threads", len(appCfg.Seed.Threads),
				"windows", len(appCfg.Seed.Windows),
			)
			return nil
		},
	}
}
