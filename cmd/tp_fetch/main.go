package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/creachadair/atomicfile"

	"github.com/dgnsrekt/tubeprompt/internal/agent"
	"github.com/dgnsrekt/tubeprompt/internal/browser"
	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/config"
	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/poll"
	"github.com/dgnsrekt/tubeprompt/internal/prompt"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

func main() {
	tabID := flag.String("tab", "", "Target id of the video tab (default: first tab showing a video)")
	watchURL := flag.String("url", "", "Open this watch URL in a new tab first")
	outPath := flag.String("o", "", "Write the output to this file instead of stdout")
	transcriptOnly := flag.Bool("transcript-only", false, "Print the context header and transcript without instructions")
	toClipboard := flag.Bool("copy", false, "Also copy the prompt to the page clipboard")
	timeout := flag.Duration("timeout", 90*time.Second, "Overall time limit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}
	level := slog.LevelWarn
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	tables, err := lookup.Load(cfg.LookupFile)
	if err != nil {
		fatal("load lookup tables", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *watchURL != "" {
		id, err := browser.OpenTab(ctx, cfg.CDPURL(), *watchURL)
		if err != nil {
			fatal("open tab", err)
		}
		*tabID = id
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := client.Connect(ctx); err != nil {
		fatal("connect to browser", err)
	}
	defer func() { _ = client.Close() }()

	svc := agent.NewService(client, agent.OptionsFromConfig(cfg, tables))
	defer svc.Close()

	id, err := waitForVideoTab(ctx, svc, *tabID)
	if err != nil {
		fatal("find video tab", err)
	}

	res, err := svc.Acquire(ctx, id, *toClipboard)
	if err != nil {
		if errors.Is(err, agent.ErrNoTranscript) {
			fmt.Fprintln(os.Stderr, "tp_fetch: no transcript found for this video")
			os.Exit(2)
		}
		fatal("acquire transcript", err)
	}

	text := res.Prompt
	if *transcriptOnly {
		text = prompt.TranscriptOnly(prompt.Context{Title: res.Title, Channel: res.Channel, URL: res.URL}, res.Transcript)
	}
	if err := writeOutput(*outPath, text); err != nil {
		fatal("write output", err)
	}
	slog.Info("tp_fetch done", "tab_id", id, "source", res.Source, "lines", len(res.Lines), "acquisition_id", res.ID)
}

// waitForVideoTab syncs until a tab showing a video is attached. With an
// explicit id only that tab qualifies.
func waitForVideoTab(ctx context.Context, svc *agent.Service, want string) (string, error) {
	var found string
	ok := poll.Until(ctx, 500*time.Millisecond, 60, func(ctx context.Context) bool {
		tabs, err := svc.ListTabs(ctx)
		if err != nil {
			slog.Debug("tp_fetch tab list failed", "error", err)
			return false
		}
		for _, t := range tabs {
			if want != "" && t.TabID != want {
				continue
			}
			if watch.VideoID(t.URL) != "" {
				found = t.TabID
				return true
			}
		}
		return false
	})
	if !ok {
		if want != "" {
			return "", fmt.Errorf("tab %s is not showing a video", want)
		}
		return "", errors.New("no tab is showing a video")
	}
	return found, nil
}

func writeOutput(path, text string) error {
	if path == "" {
		_, err := io.WriteString(os.Stdout, text+"\n")
		return err
	}
	f, err := atomicfile.New(path, 0o644)
	if err != nil {
		return err
	}
	defer f.Cancel()
	if _, err := io.WriteString(f, text+"\n"); err != nil {
		return err
	}
	return f.Close()
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "tp_fetch: %s: %v\n", what, err)
	os.Exit(1)
}
