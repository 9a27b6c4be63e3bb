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

	"github.com/loqalabs/loqa-dictate/internal/appcontext"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

var version = "0.1.0-dev"

const usage = "expected one of: validate, analyze, classify, history, version"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "validate":
		err = runValidate(args[1:], stdout, stderr)
	case "analyze":
		err = runAnalyze(args[1:], stdout, stderr)
	case "classify":
		err = runClassify(args[1:], stdout, stderr)
	case "history":
		err = runHistory(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runValidate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("validate", stderr)
	path := fs.String("file", "loqa-dictate.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(*path); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "config valid")
	return nil
}

type analysis struct {
	File            string                `json:"file"`
	SampleRate      int                   `json:"sample_rate"`
	Channels        int                   `json:"channels"`
	DurationSeconds float64               `json:"duration_seconds"`
	Verdict         domain.SilenceVerdict `json:"verdict"`
}

func runAnalyze(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("analyze", stderr)
	path := fs.String("file", "", "Path to a 16-bit WAV recording")
	configPath := fs.String("config", "", "Optional configuration file for silence thresholds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("analyze requires -file")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()
	pcm, sampleRate, channels, err := audio.ReadWAV(f)
	if err != nil {
		return err
	}

	out := analysis{
		File:       *path,
		SampleRate: sampleRate,
		Channels:   channels,
		Verdict:    audio.AnalyzeWith(pcm, audio.ThresholdsFromConfig(cfg.Audio.Silence)),
	}
	if sampleRate > 0 && channels > 0 {
		out.DurationSeconds = float64(len(pcm)/2/channels) / float64(sampleRate)
	}
	return writeJSON(stdout, out)
}

func runClassify(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("classify", stderr)
	var info platform.WindowInfo
	fs.StringVar(&info.AppName, "app", "", "Application display name")
	fs.StringVar(&info.ProcessName, "process", "", "Process name")
	fs.StringVar(&info.BundleID, "bundle", "", "Bundle identifier")
	fs.StringVar(&info.WindowTitle, "title", "", "Window title")
	mappings := fs.String("mappings", "", "Optional mappings file merged over the built-in table")
	tieBreak := fs.String("tie-break", string(appcontext.TieBreakFirst), "Tie-break policy: first|most_specific")
	if err := fs.Parse(args); err != nil {
		return err
	}

	table, err := appcontext.LoadTable(*mappings)
	if err != nil {
		return err
	}
	detector := appcontext.NewDetector(nil, appcontext.Options{
		Table:    table,
		TieBreak: appcontext.TieBreak(*tieBreak),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return writeJSON(stdout, detector.Classify(info))
}

func runHistory(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	configPath := fs.String("config", "loqa-dictate.yaml", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum transcripts to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// Opening a session store purges it, so only persistent history is readable offline.
	if cfg.Store.RetentionMode != store.RetentionPersistent {
		return fmt.Errorf("history needs store.retention_mode=persistent, got %s", cfg.Store.RetentionMode)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store, slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err != nil {
		return err
	}
	defer st.Close()
	transcripts, err := st.ListTranscripts(ctx, *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, transcripts)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
