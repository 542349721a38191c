package cli

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/cli/config"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// seedActor is recorded as the creator of seeded windows.
const seedActor = "seed"

type seedReport struct {
	Numbers  int
	Contacts int
	Sitters  int
	Threads  int
	Windows  int
	Skipped  int
}

func cmdSeed() *cli.Command {
	var fileCfg config.File
	var repoCfg config.Repository

	var flags []cli.Flag
	flags = append(flags, fileCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:  "seed",
		Usage: "Load numbers, contacts, sitters, threads and windows from the configuration file",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if fileCfg.Path() == "" {
				return goerr.New("--config is required")
			}
			appCfg, err := fileCfg.Load()
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}
			if appCfg.Seed == nil {
				logging.Default().Info("No seed section in configuration, nothing to do")
				return nil
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			report, err := applySeed(ctx, repo, usecase.New(repo), appCfg.Seed, time.Now().UTC())
			if err != nil {
				return err
			}

			logging.Default().Info("Seed applied",
				"org_id", appCfg.Seed.OrgID,
				"numbers", report.Numbers,
				"contacts", report.Contacts,
				"sitters", report.Sitters,
				"threads", report.Threads,
				"windows", report.Windows,
				"skipped", report.Skipped,
			)
			return nil
		},
	}
}

// applySeed creates every seed entry that does not exist yet. Running it
// twice with the same input creates nothing the second time.
func applySeed(ctx context.Context, repo interfaces.Repository, uc *usecase.UseCases, seed *config.SeedConfig, now time.Time) (*seedReport, error) {
	logger := logging.From(ctx)
	orgID := seed.OrgID
	report := &seedReport{}

	numberIDs := make(map[string]string)
	for _, n := range seed.Numbers {
		existing, err := repo.Number().GetByE164(ctx, n.E164)
		switch {
		case err == nil:
			if existing.OrgID != orgID {
				return nil, goerr.New("number is registered to another org", goerr.V("e164", n.E164), goerr.V("org_id", existing.OrgID))
			}
			numberIDs[n.E164] = existing.ID
			report.Skipped++
			continue
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(err, "failed to look up number", goerr.V("e164", n.E164))
		}

		created, err := repo.Number().Create(ctx, orgID, &model.MessageNumber{
			E164:      n.E164,
			Class:     types.NumberClass(n.Class),
			Status:    types.NumberStatusActive,
			CreatedAt: now,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create number", goerr.V("e164", n.E164))
		}
		numberIDs[n.E164] = created.ID
		report.Numbers++
	}

	for _, c := range seed.Contacts {
		_, err := repo.Contact().FindByE164(ctx, orgID, c.E164)
		switch {
		case err == nil:
			report.Skipped++
			continue
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(err, "failed to look up contact", goerr.V("e164", c.E164))
		}

		if _, err := repo.Contact().Create(ctx, orgID, &model.ClientContact{
			ClientID:  c.ClientID,
			E164:      c.E164,
			IsPrimary: c.Primary,
			CreatedAt: now,
		}); err != nil {
			return nil, goerr.Wrap(err, "failed to create contact", goerr.V("e164", c.E164))
		}
		report.Contacts++
	}

	sitterIDs := make(map[string]string)
	for _, s := range seed.Sitters {
		existing, err := repo.Sitter().GetByUserID(ctx, orgID, s.UserID)
		switch {
		case err == nil:
			sitterIDs[s.UserID] = existing.ID
			report.Skipped++
			continue
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(err, "failed to look up sitter", goerr.V("user_id", s.UserID))
		}

		created, err := repo.Sitter().Create(ctx, orgID, &model.Sitter{
			UserID:    s.UserID,
			Name:      s.Name,
			CreatedAt: now,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create sitter", goerr.V("user_id", s.UserID))
		}
		sitterIDs[s.UserID] = created.ID
		report.Sitters++
	}

	threadIDs := make(map[string]string)
	for _, t := range seed.Threads {
		q := model.ThreadQuery{
			NumberID:   numberIDs[t.Number],
			ClientID:   t.ClientID,
			ThreadType: types.ThreadType(t.Type),
		}
		existing, err := repo.Thread().FindActive(ctx, orgID, q)
		switch {
		case err == nil:
			threadIDs[t.Key] = existing.ID
			report.Skipped++
			continue
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(err, "failed to look up thread", goerr.V("key", t.Key))
		}

		created, err := repo.Thread().Create(ctx, orgID, &model.Thread{
			ClientID:       t.ClientID,
			NumberID:       q.NumberID,
			SitterID:       sitterIDs[t.Sitter],
			ThreadType:     q.ThreadType,
			Status:         types.ThreadStatusActive,
			LastActivityAt: now,
			CreatedAt:      now,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create thread", goerr.V("key", t.Key))
		}
		threadIDs[t.Key] = created.ID
		report.Threads++
	}

	for i, w := range seed.Windows {
		_, err := uc.Assignment.CreateWindow(ctx, orgID, seedActor, usecase.WindowInput{
			ThreadID:   threadIDs[w.Thread],
			SitterID:   sitterIDs[w.Sitter],
			StartsAt:   w.StartsAt,
			EndsAt:     w.EndsAt,
			BookingRef: w.BookingRef,
		})
		if errors.Is(err, usecase.ErrConflict) {
			logger.Info("Window overlaps an existing window, skipped", "index", i, "thread", w.Thread)
			report.Skipped++
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create window", goerr.V("index", i), goerr.V("thread", w.Thread))
		}
		report.Windows++
	}

	return report, nil
}
