package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.design/x/hotkey/mainthread"
	"golang.org/x/sync/errgroup"
)

// errQuit ends the key loop without reporting a failure.
var errQuit = errors.New("quit")

const defaultHistoryLimit = 10

// main hands control to mainthread so macOS can deliver hotkey events on the
// main thread; everything else runs on the goroutine it starts.
func main() {
	mainthread.Init(func() {
		if err := run(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "app-english:", err)
			os.Exit(1)
		}
	})
}

func run(args []string) error {
	fs := pflag.NewFlagSet("app-english", pflag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default ~/.app-english/config.json)")
	fs.String("text", "", "phrase to practise")
	fs.String("server", "", "evaluation server base URL")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("hotkey", "", `push-to-talk combination, e.g. "ctrl+shift+space"`)
	historyN := fs.Int("history", 0, "print the N most recent attempts and exit")
	attemptID := fs.String("attempt", "", "print the word results of one attempt (id from --history) and exit")
	referenceOnly := fs.Bool("reference", false, "play the reference reading and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	boot, err := NewLogger(LogConfig{Level: "warn"})
	if err != nil {
		return err
	}
	cfgSvc := NewConfigService(*configPath, boot.Named("config").Sugar())
	cfgSvc.BindFlags(fs)
	cfg, err := cfgSvc.Load()
	if err != nil {
		return err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Named("main").Sugar()
	log.Debugf("config loaded from %s", cfgSvc.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := NewMetrics()
	client := NewEvaluationClient(cfg.Server, logger.Named("evaluate").Sugar())
	out := NewOutputService(cfg.Audio.SampleRate)
	reference := NewReferenceService(cfg.Reference, client, metrics, logger.Named("reference").Sugar())

	var history *HistoryService
	if cfg.History.Path != "" {
		h, err := NewHistoryService(cfg.History.Path, logger.Named("history").Sugar())
		if err != nil {
			log.Warnf("history disabled: %v", err)
		} else {
			history = h
			defer history.Close()
		}
	}

	switch {
	case *attemptID != "":
		if history == nil {
			return errors.New("history is not available")
		}
		return showAttempt(ctx, history, out, *attemptID)
	case *historyN > 0:
		if history == nil {
			return errors.New("history is not available")
		}
		attempts, err := history.Recent(ctx, *historyN)
		if err != nil {
			return err
		}
		out.RenderHistory(attempts)
		return nil
	case *referenceOnly:
		return reference.Play(ctx, cfg.Practice.TargetText)
	}

	capture := NewAudioCapture(
		WithCaptureLogger(logger.Named("audio").Sugar()),
		WithCaptureMetrics(metrics),
		WithSampleRate(cfg.Audio.SampleRate),
		WithLiveBuffer(cfg.Audio.LiveBuffer),
	)
	opts := []SessionOption{
		WithPermissionChecker(portaudioPermission{}),
		WithSessionMetrics(metrics),
		WithSessionLogger(logger.Named("session").Sugar()),
		WithStateListener(out.RenderState),
	}
	if history != nil {
		opts = append(opts, WithHistory(history))
	}
	session := NewRecordingSession(NewTargetPhrase(cfg.Practice.TargetText), capture, client, opts...)

	app := NewApp(session, out, logger.Named("app").Sugar())
	app.SetReferenceService(reference)
	if history != nil {
		app.SetHistoryService(history, defaultHistoryLimit)
	}
	if cfg.Hotkey != "" {
		app.SetHotkeyService(NewHotkeyService(logger.Named("hotkey").Sugar()), cfg.Hotkey)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return ServeMetrics(gctx, cfg.Metrics.Addr, metrics, logger.Named("metrics").Sugar())
		})
	}
	app.Startup(gctx)
	g.Go(func() error {
		return readKeys(gctx, os.Stdin, app)
	})

	err = g.Wait()
	app.Shutdown()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// showAttempt renders the stored word results of one past attempt.
func showAttempt(ctx context.Context, history *HistoryService, out *OutputService, id string) error {
	a, err := history.Get(ctx, id)
	if err != nil {
		return err
	}
	result, err := a.Words()
	if err != nil {
		return err
	}
	out.Notice(fmt.Sprintf("%s  %s", a.CreatedAt.Local().Format("2006-01-02 15:04"), a.TargetText), nil)
	out.RenderWords(MapResults(NewTargetPhrase(a.TargetText), result), result)
	return nil
}

// readKeys feeds stdin lines to the app until it asks to quit, stdin closes
// or ctx is cancelled. The scanner runs on its own goroutine because a
// terminal read cannot be interrupted.
func readKeys(ctx context.Context, r io.Reader, app *App) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok || !app.HandleKey(line) {
				return errQuit
			}
		}
	}
}
