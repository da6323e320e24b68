package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/robertmeta/strip-cli/strip"
	"github.com/rs/zerolog"
)

// filePresenter writes every new strip into a directory, named by the day
// it was retrieved.
type filePresenter struct {
	dir    string
	logger zerolog.Logger
}

func newFilePresenter(dir string, logger zerolog.Logger) (*filePresenter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &filePresenter{
		dir:    dir,
		logger: logger.With().Str("module", "Presenter").Logger(),
	}, nil
}

func (p *filePresenter) StripUpdated(e strip.Event) {
	if e.Strip == nil || e.Strip.IsMissing() {
		return
	}
	path, err := p.write(e)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to write strip")
		return
	}
	p.logger.Info().Str("path", path).Msg("Strip written")
}

func (p *filePresenter) write(e strip.Event) (string, error) {
	name := fmt.Sprintf("strip-%s%s", e.Strip.RetrievedAt().Format("2006-01-02"), e.Strip.ImageType().Extension())
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, e.Strip.Bytes(), 0644); err != nil {
		return "", err
	}
	return path, nil
}
