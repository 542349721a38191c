package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/cli/config"
	httpctrl "github.com/snoutos/switchboard/pkg/controller/http"
	"github.com/snoutos/switchboard/pkg/service/policy"
	"github.com/snoutos/switchboard/pkg/service/worker"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/async"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func cmdServe() *cli.Command {
	var addr string
	var publicURL string
	var providerTimeout time.Duration
	var reconcileInterval time.Duration
	var reconcileThreshold time.Duration
	var fileCfg config.File
	var repoCfg config.Repository
	var providerCfg config.Provider
	var queueCfg config.Queue
	var auditCfg config.Audit
	var sentryCfg config.Sentry
	var slackCfg config.Slack

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("SWITCHBOARD_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "public-url",
			Usage:       "Public base URL the provider reaches this server at (e.g., https://sms.example.com); used to verify webhook signatures",
			Sources:     cli.EnvVars("SWITCHBOARD_PUBLIC_URL"),
			Destination: &publicURL,
		},
		&cli.DurationFlag{
			Name:        "provider-timeout",
			Usage:       "Timeout of a single provider send",
			Value:       usecase.DefaultProviderTimeout,
			Sources:     cli.EnvVars("SWITCHBOARD_PROVIDER_TIMEOUT"),
			Destination: &providerTimeout,
		},
		&cli.DurationFlag{
			Name:        "reconcile-interval",
			Usage:       "How often deliveries without a status callback are polled",
			Category:    "Worker",
			Value:       worker.DefaultReconcileInterval,
			Sources:     cli.EnvVars("SWITCHBOARD_RECONCILE_INTERVAL"),
			Destination: &reconcileInterval,
		},
		&cli.DurationFlag{
			Name:        "reconcile-threshold",
			Usage:       "Age after which a pending delivery is polled",
			Category:    "Worker",
			Value:       worker.DefaultPendingThreshold,
			Sources:     cli.EnvVars("SWITCHBOARD_RECONCILE_THRESHOLD"),
			Destination: &reconcileThreshold,
		},
	}

	flags = append(flags, fileCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, providerCfg.Flags()...)
	flags = append(flags, queueCfg.Flags()...)
	flags = append(flags, auditCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)
	flags = append(flags, slackCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()
			logger.Info("Serve configuration",
				"repository", repoCfg,
				"provider", providerCfg,
				"queue", queueCfg,
				"audit", auditCfg,
				"sentry", sentryCfg,
				"slack", slackCfg,
			)

			appCfg, err := fileCfg.Load()
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}

			flush, err := sentryCfg.Configure()
			if err != nil {
				return err
			}
			defer flush()

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			if publicURL != "" {
				providerCfg.SetStatusCallback(strings.TrimSuffix(publicURL, "/") + "/hooks/twilio/status")
			} else {
				logger.Warn("--public-url is not set, webhook signatures are checked against the request host")
			}
			provider, err := providerCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to initialize provider")
			}

			jobQueue, closeQueue, err := queueCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize job queue")
			}
			defer closeQueue()

			auditSink, closeAudit, err := auditCfg.Configure(repo)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize audit log")
			}
			defer closeAudit()

			detector, err := policy.NewDetector(appCfg.Policy.Patterns...)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize policy detector")
			}

			ucOpts := []usecase.Option{
				usecase.WithProvider(provider),
				usecase.WithPolicyDetector(detector),
				usecase.WithAuditSink(auditSink),
				usecase.WithJobQueue(jobQueue),
				usecase.WithProviderTimeout(providerTimeout),
			}

			notifier, err := slackCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to initialize slack notifier")
			}
			if notifier != nil {
				ucOpts = append(ucOpts, usecase.WithAlertNotifier(notifier))
				logger.Info("Slack alert notifications enabled")
			}

			uc := usecase.New(repo, ucOpts...)

			if err := jobQueue.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start job queue")
			}

			reconcileWorker := worker.NewDeliveryReconcileWorker(uc.Delivery,
				worker.WithInterval(reconcileInterval),
				worker.WithThreshold(reconcileThreshold),
			)
			if err := reconcileWorker.Start(ctx); err != nil {
				jobQueue.Stop()
				return goerr.Wrap(err, "failed to start delivery reconcile worker")
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, httpctrl.WithPublicURL(publicURL)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			eg, egCtx := errgroup.WithContext(sigCtx)
			eg.Go(func() error {
				logger.Info("Starting HTTP server", "addr", addr, "public_url", publicURL)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "failed to start server")
				}
				return nil
			})
			eg.Go(func() error {
				<-egCtx.Done()
				logger.Info("Shutting down HTTP server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}
				return nil
			})
			serveErr := eg.Wait()

			// In-flight requests may still enqueue retry jobs, so the queue stops after the server.
			reconcileWorker.Stop()
			jobQueue.Stop()
			async.Wait()

			if serveErr != nil {
				return serveErr
			}
			logger.Info("Server shutdown completed")
			return nil
		},
	}
}
