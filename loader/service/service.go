package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guidechat/render"
	"guidechat/store"
	"guidechat/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	SourceDir  string
	ArchiveDir string
	BadDir     string
}

func ConfigFromEnv() Config {
	cfg := Config{
		SourceDir:  os.Getenv("SOURCE_DIR"),
		ArchiveDir: os.Getenv("ARCHIVE_DIR"),
		BadDir:     os.Getenv("BAD_DIR"),
	}
	if cfg.SourceDir == "" {
		cfg.SourceDir = "source"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "archive"
	}
	if cfg.BadDir == "" {
		cfg.BadDir = "bad"
	}
	return cfg
}

// manifest is the sidecar file expected next to each PDF: <name>.pdf.json.
// A missing id is derived from the url so reseeding stays idempotent.
type manifest struct {
	ID       uuid.UUID               `json:"id"`
	URL      string                  `json:"url"`
	Metadata types.GuidelineMetadata `json:"metadata_map"`
}

// Service seeds the document catalog from a directory of guideline PDFs.
type Service struct {
	logger *zap.Logger
	store  store.DocumentStorer
	cfg    Config
}

func New(storer store.DocumentStorer, cfg Config, logger *zap.Logger) *Service {
	createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir)
	return &Service{
		logger: logger,
		store:  storer,
		cfg:    cfg,
	}
}

// Run walks the source directory once and upserts every PDF with a valid
// sidecar manifest. Processed files move to the archive directory, rejects
// to the bad directory.
func (s *Service) Run(ctx context.Context) error {
	files, err := os.ReadDir(s.cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("reading source directory: %w", err)
	}

	var seeded, skipped, failed int
	for _, file := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".pdf") {
			continue
		}

		path := filepath.Join(s.cfg.SourceDir, file.Name())
		switch err := s.seedFile(ctx, path); {
		case err == nil:
			seeded++
		case err == errUpToDate:
			skipped++
			s.moveTo(path, s.cfg.ArchiveDir)
		default:
			failed++
			s.logger.Error("seeding failed", zap.String("file", path), zap.Error(err))
			s.moveTo(path, s.cfg.BadDir)
		}
	}

	s.logger.Info("catalog seeding finished",
		zap.Int("seeded", seeded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

var errUpToDate = fmt.Errorf("document already up to date")

func (s *Service) seedFile(ctx context.Context, path string) error {
	m, err := readManifest(path + ".json")
	if err != nil {
		return err
	}

	layout, err := render.InspectFile(path)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}
	if layout.PageCount == 0 {
		return fmt.Errorf("%s has no pages", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	modTime := info.ModTime()

	if !s.shouldUpdate(ctx, m.ID, modTime) {
		return errUpToDate
	}

	now := time.Now()
	doc := types.Document{
		ID:        m.ID,
		URL:       m.URL,
		Metadata:  &m.Metadata,
		CreatedAt: &now,
		UpdatedAt: &modTime,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}

	s.logger.Info("document seeded",
		zap.String("id", m.ID.String()),
		zap.String("title", doc.Title()),
		zap.Int("pages", layout.PageCount),
	)
	s.moveTo(path, s.cfg.ArchiveDir)
	return nil
}

// shouldUpdate reports whether the file on disk is newer than the catalog
// record. Unknown documents always update.
func (s *Service) shouldUpdate(ctx context.Context, id uuid.UUID, modTime time.Time) bool {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return true
	}
	if doc.UpdatedAt == nil {
		return true
	}
	return modTime.After(*doc.UpdatedAt)
}

func readManifest(path string) (manifest, error) {
	var m manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.URL == "" {
		return m, fmt.Errorf("manifest %s has no url", path)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(m.URL))
	}
	return m, nil
}

func (s *Service) moveTo(path, destDir string) {
	sidecar := path + ".json"
	for _, src := range []string{path, sidecar} {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dest); err != nil {
			s.logger.Warn("could not move file", zap.String("file", src), zap.Error(err))
		}
	}
}

func createDirectories(dirs ...string) {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Printf("error creating directory %s: %v\n", dir, err)
		}
	}
}
