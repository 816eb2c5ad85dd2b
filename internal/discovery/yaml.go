package discovery

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/project-million/scanner-cli/internal/model"
)

// FileSource reads listings from a YAML fixture file: a top-level
// sequence of listing mappings.
type FileSource struct {
	name string
	path string
}

// NewFileSource creates a YAML file source.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

// Name returns the configured source name, used as the natural-key
// source component on every listing it yields.
func (s *FileSource) Name() string { return s.name }

// Discover parses the file and returns its valid listings.
func (s *FileSource) Discover(ctx context.Context) ([]model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: cancelled")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read %s", s.path)
	}

	var raw []model.Listing
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "discovery: parse %s", s.path)
	}

	listings := make([]model.Listing, 0, len(raw))
	for _, l := range raw {
		if l.Source == "" {
			l.Source = s.name
		}
		if !l.Valid() {
			zap.L().Warn("discovery: skipping invalid listing",
				zap.String("source", s.name),
				zap.String("business", l.BusinessName),
			)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}
