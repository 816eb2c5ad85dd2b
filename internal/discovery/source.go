// Package discovery produces raw business-for-sale listings from
// pluggable sources. Sources are external collaborators; a source error
// is a run-level failure, while individual malformed rows are skipped.
package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/project-million/scanner-cli/internal/config"
	"github.com/project-million/scanner-cli/internal/model"
)

// Source yields a finite batch of candidate listings per invocation.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]model.Listing, error)
}

// FromConfig builds the configured sources.
func FromConfig(cfgs []config.SourceConfig) ([]Source, error) {
	var sources []Source
	for _, c := range cfgs {
		switch c.Type {
		case "yaml":
			sources = append(sources, NewFileSource(c.Name, c.Path))
		case "xlsx":
			sources = append(sources, NewSheetSource(c.Name, c.Path, c.Sheet))
		default:
			return nil, eris.Errorf("discovery: unknown source type %q for %q", c.Type, c.Name)
		}
	}
	return sources, nil
}

// Names returns the source names, recorded into run_config.
func Names(sources []Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	return names
}

// Multi concatenates the output of several sources. Any source error
// aborts discovery; the scan controller turns that into a failed run.
type Multi struct {
	sources []Source
}

// NewMulti creates a composite source.
func NewMulti(sources ...Source) *Multi {
	return &Multi{sources: sources}
}

// Name identifies the composite in logs.
func (m *Multi) Name() string { return "multi" }

// Discover runs every configured source in order.
func (m *Multi) Discover(ctx context.Context) ([]model.Listing, error) {
	var all []model.Listing
	for _, s := range m.sources {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery: cancelled")
		}
		listings, err := s.Discover(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: source %s", s.Name())
		}
		all = append(all, listings...)
	}
	return all, nil
}
