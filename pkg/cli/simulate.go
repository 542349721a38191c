package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/cli/config"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func init() {
	// Users can disable with NO_COLOR
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func cmdSimulate() *cli.Command {
	var fileCfg config.File
	var repoCfg config.Repository
	var orgID string
	var threadID string
	var threadKey string
	var at string
	var direction string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "org",
			Usage:       "Org ID (defaults to the seed org of --config)",
			Destination: &orgID,
		},
		&cli.StringFlag{
			Name:        "thread",
			Usage:       "Thread ID to evaluate",
			Destination: &threadID,
		},
		&cli.StringFlag{
			Name:        "thread-key",
			Usage:       "Seed thread key to evaluate, resolved through --config",
			Destination: &threadKey,
		},
		&cli.StringFlag{
			Name:        "at",
			Usage:       "Evaluation time in RFC3339 (defaults to now)",
			Destination: &at,
		},
		&cli.StringFlag{
			Name:        "direction",
			Usage:       "Message direction (inbound or outbound)",
			Value:       string(types.DirectionInbound),
			Destination: &direction,
		},
	}
	flags = append(flags, fileCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:  "simulate",
		Usage: "Show who a message on a thread would be routed to, without recording the decision",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			appCfg, err := fileCfg.Load()
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}

			ts := time.Now().UTC()
			if at != "" {
				ts, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return goerr.Wrap(err, "invalid --at, expected RFC3339", goerr.V("at", at))
				}
			}

			dir := types.Direction(direction)
			if dir != types.DirectionInbound && dir != types.DirectionOutbound {
				return goerr.New("invalid --direction", goerr.V("direction", direction))
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() { _ = repo.Close() }()

			uc := usecase.New(repo)

			// An in-memory repository starts empty, so load the seed first.
			if repoCfg.Backend() == "memory" && appCfg.Seed != nil {
				if _, err := applySeed(ctx, repo, uc, appCfg.Seed, time.Now().UTC()); err != nil {
					return err
				}
			}

			if orgID == "" && appCfg.Seed != nil {
				orgID = appCfg.Seed.OrgID
			}
			if orgID == "" {
				return goerr.New("--org is required")
			}

			if threadID == "" {
				if threadKey == "" {
					return goerr.New("either --thread or --thread-key is required")
				}
				t, err := resolveSeedThread(ctx, repo, appCfg.Seed, threadKey)
				if err != nil {
					return err
				}
				threadID = t.ID
			}

			decision, err := uc.Routing.Simulate(ctx, orgID, threadID, ts, dir)
			if err != nil {
				return goerr.Wrap(err, "failed to simulate routing", goerr.V("thread_id", threadID))
			}

			printDecision(c.Root().Writer, threadID, decision)
			return nil
		},
	}
}

// resolveSeedThread finds the stored thread a seed key describes.
func resolveSeedThread(ctx context.Context, repo interfaces.Repository, seed *config.SeedConfig, key string) (*model.Thread, error) {
	if seed == nil {
		return nil, goerr.New("--thread-key needs a --config with a seed section")
	}
	for _, t := range seed.Threads {
		if t.Key != key {
			continue
		}
		number, err := repo.Number().GetByE164(ctx, t.Number)
		if err != nil {
			return nil, goerr.Wrap(err, "seed thread number not found", goerr.V("key", key))
		}
		thread, err := repo.Thread().FindActive(ctx, seed.OrgID, model.ThreadQuery{
			NumberID:   number.ID,
			ClientID:   t.ClientID,
			ThreadType: types.ThreadType(t.Type),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "seed thread not found, run seed first", goerr.V("key", key))
		}
		return thread, nil
	}
	return nil, goerr.New("unknown thread key", goerr.V("key", key))
}

func printDecision(w io.Writer, threadID string, d *model.RoutingDecision) {
	if w == nil {
		w = os.Stdout
	}

	cyan.Fprintf(w, "→ Routing for thread %s at %s (%s)\n\n",
		threadID, d.EvaluatedAt.Format(time.RFC3339), d.InputsSnapshot.Direction)

	for _, step := range d.Trace {
		mark, c := "✗", faint
		if step.Result {
			mark, c = "✓", green
		}
		c.Fprintf(w, "  %s %d. %s", mark, step.Step, step.Rule)
		fmt.Fprintf(w, "  %s\n", step.Condition)
		if step.Explanation != "" {
			faint.Fprintf(w, "       %s\n", step.Explanation)
		}
	}
	fmt.Fprintln(w)

	target := string(d.Target)
	if d.TargetID != "" {
		target = fmt.Sprintf("%s %s", d.Target, d.TargetID)
	}
	switch d.Target {
	case types.RoutingTargetSitter:
		green.Fprintf(w, "✓ Routed to %s\n", target)
	case types.RoutingTargetOwnerInbox:
		yellow.Fprintf(w, "Routed to %s\n", target)
	default:
		red.Fprintf(w, "Routed to %s\n", target)
	}
	fmt.Fprintf(w, "  reason:   %s\n", d.Reason)
	if d.MatchedOverrideID != "" {
		fmt.Fprintf(w, "  override: %s\n", d.MatchedOverrideID)
	}
	if d.MatchedWindowID != "" {
		fmt.Fprintf(w, "  window:   %s\n", d.MatchedWindowID)
	}
	faint.Fprintf(w, "  ruleset %s\n", d.RulesetVersion)
}
