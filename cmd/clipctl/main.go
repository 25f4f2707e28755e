// Command clipctl runs one clip job against the backend without the agent daemon:
// upload a video, request a clip, wait for it and save the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/config"
	"github.com/highlightr/highlightr-agent/internal/logging"
	"github.com/highlightr/highlightr-agent/internal/poller"
	"github.com/highlightr/highlightr-agent/internal/retriever"
	"github.com/highlightr/highlightr-agent/internal/upload"
)

const usage = `usage: clipctl <command> [flags]

commands:
  run     -video FILE -text TEXT [-sport S] [-duration N] [-out DIR]
  status  VIDEO_ID
  delete  VIDEO_ID
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "status":
		err = statusCmd(ctx, os.Args[2:])
	case "delete":
		err = deleteCmd(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "clipctl: %v\n", err)
		os.Exit(1)
	}
}

type common struct {
	backendURL string
	token      string
	verbose    bool
}

func (c *common) register(fs *flag.FlagSet, cfg *config.EnvConfig) {
	fs.StringVar(&c.backendURL, "backend", cfg.BackendURL(), "backend base URL")
	fs.StringVar(&c.token, "token", cfg.BackendToken(), "backend bearer token")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
}

func (c *common) logger() *slog.Logger {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	return logging.NewLoggerTo(os.Stderr, level)
}

func (c *common) client(cfg *config.EnvConfig, logger *slog.Logger) *backend.HTTPClient {
	return backend.NewHTTPClient(c.backendURL, c.token, cfg.RequestTimeout(), logging.WithComponent(logger, "backend"))
}

func runCmd(ctx context.Context, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var c common
	c.register(fs, cfg)
	videoPath := fs.String("video", "", "video file to upload")
	text := fs.String("text", "", "what the clip should show")
	sport := fs.String("sport", clip.SportAuto, "sport type")
	duration := fs.Int("duration", clip.DefaultTargetDuration, "target duration in seconds")
	outDir := fs.String("out", ".", "directory the clip is saved to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *videoPath == "" {
		return errors.New("-video is required")
	}

	draft := clip.ClipDraft{Text: *text, SportType: *sport, TargetDuration: *duration}
	if err := clip.ValidateDraft(draft); err != nil {
		return err
	}
	out, err := filepath.Abs(*outDir)
	if err != nil {
		return err
	}
	if err := retriever.ValidateOutputDir(out); err != nil {
		return err
	}

	logger := c.logger()
	client := c.client(cfg, logger)

	spool, err := os.MkdirTemp("", "clipctl-*")
	if err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}
	defer os.RemoveAll(spool)
	store, err := retriever.NewStore(spool)
	if err != nil {
		return err
	}
	fetcher := retriever.New(client, store, logging.WithComponent(logger, "retriever"))
	defer fetcher.Close()

	p := newProgress(os.Stderr)

	f, err := upload.FromPath(*videoPath)
	if err != nil {
		return err
	}
	uploads := upload.NewSession(client, upload.Options{
		MaxBytes: cfg.UploadMaxBytes(),
		Progress: upload.NewProgressSource(cfg.ProgressMode()),
	}, logging.WithComponent(logger, "upload"))
	unsubscribe := uploads.Subscribe(p.upload)
	defer unsubscribe()

	transfer, err := uploads.Start(ctx, f)
	if err != nil {
		return err
	}
	asset, err := transfer.Wait(ctx)
	if err != nil {
		return err
	}
	p.linef("uploaded %s as %s", asset.Filename, asset.ID)

	loop := poller.New(poller.Config{
		Interval:    cfg.PollInterval(),
		MaxDuration: cfg.PollMaxDuration(),
		Backoff:     cfg.PollBackoff(),
		MaxInterval: cfg.PollMaxInterval(),
	}, logging.WithComponent(logger, "poller"))
	machine := clipjob.New(client, fetcher, loop, clipjob.Options{AutoDownload: true}, logging.WithComponent(logger, "clipjob"))
	defer machine.Close()

	done := make(chan clipjob.Snapshot, 1)
	machine.Subscribe(func(s clipjob.Snapshot) {
		p.job(s)
		if finished(s) {
			select {
			case done <- s:
			default:
			}
		}
	})

	machine.SetAsset(asset)
	if _, err := machine.Submit(ctx, draft); err != nil {
		return err
	}

	var final clipjob.Snapshot
	select {
	case final = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	switch {
	case final.State == clipjob.StateFailed:
		return fmt.Errorf("clip failed: %s", final.Error)
	case final.Artifact == nil:
		return fmt.Errorf("download failed: %s", final.ArtifactError)
	}

	path, err := fetcher.Save(final.Artifact.Handle, out)
	if err != nil {
		return err
	}
	p.linef("saved %s (%s)", path, clip.FormatFileSize(final.Artifact.Size))
	fmt.Fprintln(os.Stdout, path)
	return nil
}

// finished reports whether the job has nothing left to do in a one-shot run.
func finished(s clipjob.Snapshot) bool {
	switch s.State {
	case clipjob.StateFailed:
		return true
	case clipjob.StateCompleted:
		return !s.Downloading && (s.Artifact != nil || s.ArtifactError != "")
	}
	return false
}

func statusCmd(ctx context.Context, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var c common
	c.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("status takes exactly one video id")
	}

	client := c.client(cfg, c.logger())
	status, err := client.VideoStatus(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func deleteCmd(ctx context.Context, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	var c common
	c.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("delete takes exactly one video id")
	}

	client := c.client(cfg, c.logger())
	if err := client.DeleteVideo(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "deleted video %s\n", fs.Arg(0))
	return nil
}

// progress renders upload and job events as status lines.
type progress struct {
	mu        sync.Mutex
	w         io.Writer
	started   time.Time
	lastPct   int
	lastState clipjob.State
	lastClip  string
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w, started: time.Now(), lastPct: -1}
}

func (p *progress) upload(ev upload.Event) {
	if ev.Progress.Phase != clip.PhaseTransferring {
		return
	}
	step := int(ev.Progress.Percent) / 10 * 10
	p.mu.Lock()
	if step == p.lastPct {
		p.mu.Unlock()
		return
	}
	p.lastPct = step
	p.mu.Unlock()
	p.linef("uploading %d%%", step)
}

func (p *progress) job(s clipjob.Snapshot) {
	status := ""
	if s.Request != nil {
		status = s.Request.Status
	}
	p.mu.Lock()
	if s.State == p.lastState && status == p.lastClip && !s.Downloading {
		p.mu.Unlock()
		return
	}
	p.lastState, p.lastClip = s.State, status
	p.mu.Unlock()

	switch {
	case s.State == clipjob.StatePolling && status != "":
		p.linef("clip %s", status)
	case s.State == clipjob.StateCompleted && s.Downloading:
		p.linef("downloading clip")
	case s.State != clipjob.StateIdle:
		p.linef("%s", s.State)
	}
}

func (p *progress) linef(format string, args ...any) {
	elapsed := clip.FormatDuration(int(time.Since(p.started).Seconds()))
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%6s] %s\n", elapsed, fmt.Sprintf(format, args...))
}
