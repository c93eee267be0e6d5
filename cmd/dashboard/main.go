package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/leadscout/leadscout/config"
	"github.com/leadscout/leadscout/internal/api"
	"github.com/leadscout/leadscout/internal/domain"
	ctxlog "github.com/leadscout/leadscout/internal/log"
	"github.com/leadscout/leadscout/internal/metrics"
	"github.com/leadscout/leadscout/internal/realtime"
	"github.com/leadscout/leadscout/internal/store"
	"github.com/leadscout/leadscout/internal/tracker"
)

const usage = `usage: dashboard <command> [flags]

commands:
  health                     probe the backend
  create -keyword -location  create a scraping job
  list [-status -page -size] list jobs
  get <job-id>               show one job
  results <job-id>           list scraped businesses for a job
  export <job-id> [-format]  request and download an export
  cancel <job-id>            cancel a job
  restart <job-id>           restart a failed job
  watch                      follow all jobs live until interrupted
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "health":
		runErr = runHealth(ctx, client)
	case "create":
		runErr = runCreate(ctx, client, os.Args[2:])
	case "list":
		runErr = runList(ctx, client, os.Args[2:])
	case "get":
		runErr = runGet(ctx, client, os.Args[2:])
	case "results":
		runErr = runResults(ctx, client, os.Args[2:])
	case "export":
		runErr = runExport(ctx, client, os.Args[2:])
	case "cancel":
		runErr = runCancel(ctx, client, os.Args[2:])
	case "restart":
		runErr = runRestart(ctx, client, os.Args[2:])
	case "watch":
		runErr = runWatch(ctx, cfg, client, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if runErr != nil {
		reportError(runErr)
		os.Exit(1)
	}
}

// reportError keeps the server's original message text visible and adds a
// hint about the failure class.
func reportError(err error) {
	switch {
	case api.IsTransport(err):
		fmt.Fprintf(os.Stderr, "error: backend unreachable: %v\n", err)
	case api.IsValidation(err):
		fmt.Fprintf(os.Stderr, "error: invalid input: %v\n", err)
	case api.IsNotFound(err):
		fmt.Fprintf(os.Stderr, "error: not found: %v\n", err)
	case api.IsInvalidState(err):
		fmt.Fprintf(os.Stderr, "error: not allowed right now: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func runHealth(ctx context.Context, client *api.Client) error {
	h, err := client.HealthCheck(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backend %s (version %s)\n", h.Status, h.Version)
	return nil
}

func runCreate(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	keyword := fs.String("keyword", "", "search keyword (required)")
	location := fs.String("location", "", "search location (required)")
	radius := fs.Float64("radius", 25, "search radius in miles")
	sources := fs.String("sources", "google_maps", "comma-separated scraper sources")
	emails := fs.Bool("emails", false, "include emails")
	maxResults := fs.Int("max", 0, "cap on results (0 = unlimited)")
	fs.Parse(args)

	req := api.CreateJobRequest{
		Keyword:     *keyword,
		Location:    *location,
		RadiusMiles: *radius,
		Sources:     strings.Split(*sources, ","),
		Options:     &domain.JobOptions{IncludeEmails: *emails},
	}
	if *maxResults > 0 {
		req.Options.MaxResults = maxResults
	}

	job, err := client.CreateJob(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("created job %s (%s in %s)\n", job.ID, job.Keyword, job.Location)
	return nil
}

func runList(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status")
	page := fs.Int("page", 1, "page")
	size := fs.Int("size", 20, "page size")
	fs.Parse(args)

	listing, err := client.ListJobs(ctx, api.ListJobsParams{
		Page:   *page,
		Size:   *size,
		Status: domain.JobStatus(*status),
	})
	if err != nil {
		return err
	}

	fmt.Printf("page %d/%d, %d jobs total\n", listing.Page, max(listing.Pages, 1), listing.Total)
	for i := range listing.Items {
		printJob(&listing.Items[i])
	}
	return nil
}

func runGet(ctx context.Context, client *api.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("get: missing job id")
	}
	job, err := client.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func runResults(ctx context.Context, client *api.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("results: missing job id")
	}
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	page := fs.Int("page", 1, "page")
	size := fs.Int("size", 20, "page size")
	fs.Parse(args[1:])

	resp, err := client.ListJobResults(ctx, args[0], *page, *size)
	if err != nil {
		return err
	}

	fmt.Printf("%s in %s: %d businesses (page %d/%d)\n",
		resp.Job.Keyword, resp.Job.Location, resp.TotalResults, resp.Page, max(resp.Pages, 1))
	for _, b := range resp.Businesses {
		line := b.Name
		if b.Phone != nil {
			line += "  " + *b.Phone
		}
		if b.Email != nil {
			line += "  " + *b.Email
		}
		fmt.Println("  " + line)
	}
	return nil
}

func runExport(ctx context.Context, client *api.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("export: missing job id")
	}
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "csv", "export format: csv, json or excel")
	out := fs.String("out", "", "output file (default: export.<format>)")
	fs.Parse(args[1:])

	export, err := client.RequestExport(ctx, args[0], api.ExportRequest{Format: api.ExportFormat(*format)})
	if err != nil {
		return err
	}

	body, err := client.DownloadExport(ctx, export)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = "export." + *format
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("wrote %d records (%d bytes) to %s\n", export.RecordCount, len(body), path)
	return nil
}

func runCancel(ctx context.Context, client *api.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("cancel: missing job id")
	}
	resp, err := client.CancelJob(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func runRestart(ctx context.Context, client *api.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("restart: missing job id")
	}
	job, err := client.RestartJob(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("restarted job %s (attempt %d)\n", job.ID, job.RetryCount+1)
	return nil
}

// runWatch runs the full synchronization layer: push channel plus polling
// reconciled into one store, re-rendered on every change.
func runWatch(ctx context.Context, cfg *config.Config, client *api.Client, logger *slog.Logger) error {
	metrics.Register()
	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	push := realtime.NewClient(cfg.RealtimeURL, logger,
		realtime.WithBackoff(cfg.ReconnectBase(), cfg.ReconnectMaxAttempts),
		realtime.WithHandshakeTimeout(cfg.ConnectTimeout()),
	)
	st := store.New(logger)
	trk := tracker.New(client, push, st, cfg.PollInterval(), logger)

	render := make(chan struct{}, 1)
	disposeStore := st.Subscribe(func() {
		select {
		case render <- struct{}{}:
		default:
		}
	})
	defer disposeStore()

	disposeState := push.OnStateChange(func(state realtime.ConnState) {
		logger.Info("push channel state changed", "state", string(state))
	})
	defer disposeState()

	if err := trk.Start(ctx); err != nil {
		return err
	}
	defer trk.Stop()

	for _, job := range st.Jobs() {
		if job.Status.Active() {
			if err := push.SubscribeToJob(job.ID); err != nil {
				logger.Warn("subscribe", "job_id", job.ID, "error", err)
			}
		}
	}

	fmt.Println("watching jobs (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
			return nil
		case <-render:
			jobs := st.Jobs()
			fmt.Printf("--- %s ---\n", time.Now().Format(time.Kitchen))
			for i := range jobs {
				printJob(&jobs[i])
			}
		}
	}
}

func printJob(job *domain.Job) {
	line := fmt.Sprintf("%s  %-9s %3d%%  %4d results  %s in %s",
		job.ID, job.Status, job.Progress, job.ResultsCount, job.Keyword, job.Location)
	if d, ok := job.Duration(time.Now()); ok {
		line += fmt.Sprintf("  (%s)", d.Round(time.Second))
	}
	if job.ErrorMessage != nil {
		line += "  error: " + *job.ErrorMessage
	}
	fmt.Println(line)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
