package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dmkl/packmatic"
)

// manifestSpec is one archive description loaded from a YAML manifest file.
type manifestSpec struct {
	Output  string      `yaml:"output"`
	Entries []entrySpec `yaml:"entries"`
}

// entrySpec describes one archive member. Exactly one of File, URL or
// Content must be set.
type entrySpec struct {
	Path    string `yaml:"path"`
	File    string `yaml:"file,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Content string `yaml:"content,omitempty"`
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "encode archives from manifest files",
		ArgsUsage: "<manifest.yaml> [<manifest.yaml>...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "method",
				Usage: "compression method: deflate or store",
				Value: "deflate",
			},
			&cli.StringFlag{
				Name:  "on-error",
				Usage: "entry failure policy: halt or skip",
				Value: "halt",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log entry-level progress",
			},
		},
		Action: runCreate,
	}
}

func runCreate(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no manifest files given")
	}
	method, err := parseMethod(c.String("method"))
	if err != nil {
		return err
	}
	policy, err := parsePolicy(c.String("on-error"))
	if err != nil {
		return err
	}
	logger := newLogger(c.Bool("verbose"))
	defer logger.Sync() //nolint:errcheck // stderr sync failure is uninteresting

	g, ctx := errgroup.WithContext(c.Context)
	for _, path := range c.Args().Slice() {
		path := path
		g.Go(func() error {
			return createArchive(ctx, path, method, policy, logger)
		})
	}
	return g.Wait()
}

// createArchive encodes one manifest file to its output archive.
func createArchive(ctx context.Context, specPath string, method packmatic.Method, policy packmatic.ErrorPolicy, logger *zap.Logger) error {
	spec, err := loadSpec(specPath)
	if err != nil {
		return err
	}
	manifest, err := buildManifest(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", specPath, err)
	}

	enc, err := packmatic.NewEncoder(ctx, manifest,
		packmatic.WithMethod(method),
		packmatic.WithOnError(policy),
		packmatic.WithOnEvent(eventLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", specPath, err)
	}

	out, err := os.Create(spec.Output)
	if err != nil {
		return err
	}
	if _, err := enc.WriteTo(out); err != nil {
		out.Close()
		return fmt.Errorf("%s: %w", specPath, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	for _, res := range enc.Results() {
		if !res.Ok() {
			logger.Warn("entry skipped",
				zap.String("archive_id", enc.ArchiveID()),
				zap.String("path", res.Entry.Path),
				zap.Error(res.Err),
			)
		}
	}
	return nil
}

// loadSpec parses and sanity-checks one manifest file.
func loadSpec(path string) (*manifestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec manifestSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if spec.Output == "" {
		return nil, fmt.Errorf("%s: manifest has no output path", path)
	}
	if len(spec.Entries) == 0 {
		return nil, fmt.Errorf("%s: manifest has no entries", path)
	}
	return &spec, nil
}

// buildManifest converts a parsed spec into a validated manifest.
func buildManifest(spec *manifestSpec) (*packmatic.Manifest, error) {
	entries := make([]*packmatic.Entry, 0, len(spec.Entries))
	for i, es := range spec.Entries {
		source, err := buildSource(es)
		if err != nil {
			return nil, fmt.Errorf("entry %d %q: %w", i, es.Path, err)
		}
		entries = append(entries, &packmatic.Entry{Path: es.Path, Source: source})
	}
	return packmatic.NewManifest(entries...)
}

func buildSource(es entrySpec) (packmatic.SourceSpec, error) {
	set := 0
	for _, s := range []string{es.File, es.URL, es.Content} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of file, url or content must be set")
	}
	switch {
	case es.File != "":
		return packmatic.File(es.File), nil
	case es.URL != "":
		return packmatic.URL(es.URL), nil
	default:
		return packmatic.Content([]byte(es.Content)), nil
	}
}

func parseMethod(s string) (packmatic.Method, error) {
	switch s {
	case "deflate":
		return packmatic.MethodDeflate, nil
	case "store":
		return packmatic.MethodStore, nil
	default:
		return 0, fmt.Errorf("unknown method %q", s)
	}
}

func parsePolicy(s string) (packmatic.ErrorPolicy, error) {
	switch s {
	case "halt":
		return packmatic.ErrorPolicyHalt, nil
	case "skip":
		return packmatic.ErrorPolicySkip, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q", s)
	}
}
