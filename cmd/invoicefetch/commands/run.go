package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"invoicefetch/lib/chrono"
	"invoicefetch/lib/invoicestore"
	"invoicefetch/lib/invoicestore/db"
	"invoicefetch/lib/restyutil"
	"invoicefetch/lib/scrapers/storefront"
	"invoicefetch/lib/serviceutil"
	"invoicefetch/lib/sqliteutil"
	"invoicefetch/lib/telemetry"
	"invoicefetch/services/archiver"

	"github.com/spf13/cobra"
)

var runDumpHttp *string

func init() {
	runCmd.Flags().Int("min-year", 0, "Override the configured minimum order year.")
	runCmd.Flags().String("schedule", "", `Repeat the run on a fixed interval, e.g. "24h" or "7d".`)
	runDumpHttp = runCmd.Flags().String(
		"dump-http", "",
		"Dump every storefront request/response pair into the given directory (needs --verbose).",
	)
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--min-year <year>] [--schedule <interval>]",
	Short: "Executes an archive pass over the storefront order history.",
	Long: `Executes one sequential archive pass: computes the year window, signs in
to the storefront, lists orders per year, and downloads every invoice
that is not yet recorded in the state database, delivering it to the
configured sinks.

The process exits non-zero only when a run could make no progress at
all: configuration, login or state-database failure, or a pass in which
every attempted delivery failed. Individual invoice failures are logged
and retried on the next run.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
			serviceutil.Fatal(
				"incomplete config",
				fmt.Errorf("credentials.username and credentials.password are required"),
			)
		}

		minYear, err := cmd.Flags().GetInt("min-year")
		if err != nil {
			serviceutil.Fatal("failed to read --min-year", err)
		}
		if minYear > 0 {
			cfg.MinYear = minYear
		}
		schedule, err := cmd.Flags().GetString("schedule")
		if err != nil {
			serviceutil.Fatal("failed to read --schedule", err)
		}

		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			serviceutil.Fatal("failed to configure sinks", err)
		}

		database, err := sqliteutil.OpenDB(db.Schema, cfg.Database.File)
		if err != nil {
			serviceutil.Fatal("failed to open state database", err)
		}
		defer database.Close()

		store := invoicestore.NewStore(database)
		notifier := archiver.NewNotifier(cfg.Smtp)

		pass := func(ctx context.Context) error {
			return runPass(ctx, cfg, store, dispatcher, notifier)
		}

		if schedule == "" {
			if err := pass(ctx); err != nil {
				serviceutil.Fatal("archive run failed", err)
			}
			return
		}

		interval, err := chrono.ParseInterval(schedule)
		if err != nil {
			serviceutil.Fatal("invalid --schedule", err)
		}
		telemetry.InstrumentPerfStats(ctx)
		runOnSchedule(ctx, interval, pass)
	},
}

// one archive pass: a fresh scoped session is acquired per pass and
// released on every exit path.
func runPass(
	ctx context.Context,
	cfg Config,
	store invoicestore.Store,
	dispatcher archiver.Dispatcher,
	notifier archiver.Notifier,
) error {
	client, err := storefront.NewClient(ctx, storefront.ClientOptions{
		BaseUrl:      cfg.BaseUrl,
		LoginRetries: cfg.Credentials.LoginRetries,
	})
	if err != nil {
		return fmt.Errorf("initialize storefront client: %w", err)
	}
	if runDumpHttp != nil && *runDumpHttp != "" {
		client.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(*runDumpHttp))
	}

	session, err := client.Login(ctx, cfg.Credentials.Username, cfg.Credentials.Password)
	if err != nil {
		return fmt.Errorf("storefront login: %w", err)
	}
	defer session.Close()

	service, err := archiver.NewService(archiver.Options{
		Store:      store,
		Source:     session,
		Dispatcher: dispatcher,
		MinYear:    cfg.MinYear,
	})
	if err != nil {
		return err
	}

	summary, err := service.Run(ctx)
	if notifier.ShouldNotify(summary) {
		if sendErr := notifier.SendReport(ctx, summary); sendErr != nil {
			slog.WarnContext(ctx, "failed to send run report", "err", sendErr)
		}
	}
	return err
}

func runOnSchedule(ctx context.Context, interval time.Duration, pass func(context.Context) error) {
	var running sync.Mutex
	var runCount atomic.Int64

	cycle := func() {
		// a pass that outlives its interval must not be overlapped by
		// the next cycle
		if !running.TryLock() {
			slog.Warn("previous run still in flight, skipping this cycle")
			return
		}
		defer running.Unlock()

		count := runCount.Add(1)
		slog.Info("starting scheduled run", "run", count)
		err := pass(ctx)
		if err != nil {
			slog.Error("scheduled run failed", "run", count, "err", err)
		}
	}

	scheduler := chrono.NewScheduler()
	err := scheduler.Every(interval, cycle)
	if err != nil {
		serviceutil.Fatal("failed to schedule runs", err)
	}

	slog.Info("schedule mode", "interval", interval.String())
	cycle()
	scheduler.Start()

	<-ctx.Done()
	scheduler.Stop()
	slog.Info("schedule mode stopped")
}
