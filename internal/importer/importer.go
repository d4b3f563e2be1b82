package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conorfennell/cardcue/internal/domain"
	"github.com/conorfennell/cardcue/internal/flashcards"
	"github.com/conorfennell/cardcue/internal/gitsource"
	"github.com/conorfennell/cardcue/internal/knol"
	"github.com/conorfennell/cardcue/internal/parser"
)

// BatchSize is the number of cards created per call, the most the
// flashcards service accepts at once.
const BatchSize = flashcards.MaxBatch

// Cards is the part of the flashcards service the importer uses.
type Cards interface {
	Create(ctx context.Context, userID uuid.UUID, inputs []flashcards.CreateInput) ([]domain.Flashcard, error)
	ContentHashes(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error)
	ValidateContent(front, back string) error
}

// Report summarises one import.
type Report struct {
	Parsed     int
	Created    int
	Duplicates int
	Errors     []error
}

// Importer bulk-creates manual flashcards from deck files.
type Importer struct {
	cards    Cards
	logger   *zap.Logger
	cacheDir string
	sync     func(ctx context.Context, logger *zap.Logger, url, dir string) error
}

// New returns an Importer that checks git sources out under cacheDir.
func New(cards Cards, logger *zap.Logger, cacheDir string) *Importer {
	return &Importer{
		cards:    cards,
		logger:   logger,
		cacheDir: cacheDir,
		sync:     gitsource.Sync,
	}
}

// Import reads every deck under source, a local file or directory or a git
// URL, and creates the cards the user does not own yet. Problems with single
// files or cards are collected in the report; the returned error is for
// failures that stop the whole import.
func (im *Importer) Import(ctx context.Context, userID uuid.UUID, source string) (Report, error) {
	var report Report
	if userID == uuid.Nil {
		return report, flashcards.ErrUnauthenticated
	}

	root := source
	if gitsource.IsRemote(source) {
		if err := os.MkdirAll(im.cacheDir, 0o755); err != nil {
			return report, fmt.Errorf("failed to create cache directory: %w", err)
		}
		root = gitsource.CacheDir(im.cacheDir, source)
		if err := im.sync(ctx, im.logger, source, root); err != nil {
			return report, err
		}
	}

	drafts, err := im.collect(root, &report)
	if err != nil {
		return report, err
	}
	report.Parsed = len(drafts)

	known, err := im.cards.ContentHashes(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to load existing cards: %w", err)
	}

	var pending []flashcards.CreateInput
	for _, d := range drafts {
		if err := im.cards.ValidateContent(d.Front, d.Back); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("card %q: %w", d.Front, err))
			continue
		}
		hash := knol.Hash(d)
		if _, ok := known[hash]; ok {
			report.Duplicates++
			continue
		}
		known[hash] = struct{}{}
		pending = append(pending, flashcards.CreateInput{Front: d.Front, Back: d.Back, Source: domain.SourceManual})
	}

	for start := 0; start < len(pending); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch := pending[start:min(start+BatchSize, len(pending))]
		created, err := im.cards.Create(ctx, userID, batch)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("batch starting at card %d: %w", start+1, err))
			continue
		}
		report.Created += len(created)
	}

	im.logger.Info("import complete",
		zap.String("source", source),
		zap.Int("parsed_cards", report.Parsed),
		zap.Int("created", report.Created),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// collect parses every supported deck file under root.
func (im *Importer) collect(root string, report *Report) ([]domain.Draft, error) {
	var drafts []domain.Draft
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.Supported(path) {
			return nil
		}
		fileCards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		im.logger.Debug("parsed deck", zap.String("path", path), zap.Int("cards", len(fileCards)))
		drafts = append(drafts, fileCards...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, walkErr)
	}
	return drafts, nil
}
