// Package indexer loads statute sources into the passage index. Seed files (YAML or JSON) and
// spreadsheets carry passages directly; PDF, DOCX and plain text acts are split into sections.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/hyperjump/nyaya/internal/extract"
	"github.com/hyperjump/nyaya/internal/fileid"
	"github.com/hyperjump/nyaya/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPassage is returned when a source yields a passage without a section or text.
var ErrInvalidPassage = errors.New("invalid passage")

// Index is where loaded passages go. *search.HybridIndex satisfies it.
type Index interface {
	Add(ctx context.Context, passages []models.Passage) error
	Remove(ctx context.Context, key models.PassageKey) error
}

// Indexer loads files into an Index. It remembers what each file contributed so that a reload
// removes sections that disappeared and an unchanged file is skipped.
type Indexer struct {
	index       Index
	extractor   *extract.Extractor
	splitter    *SectionSplitter
	language    string
	allowedExts []string
	logger      *zap.Logger
	onChange    func()

	mu     sync.Mutex
	loaded map[string]loadedFile
}

type loadedFile struct {
	version string
	keys    []models.PassageKey
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file loaded, file skipped, file removed).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithExtensions restricts LoadDirectory to the given extensions (case-insensitive; the leading
// dot is optional).
func WithExtensions(exts ...string) IndexerOption {
	return func(idx *Indexer) { idx.allowedExts = exts }
}

// OnChange sets a callback run after a load or removal changed the index.
func OnChange(fn func()) IndexerOption {
	return func(idx *Indexer) { idx.onChange = fn }
}

// NewIndexer creates an indexer. language is assigned to passages whose source does not declare one.
func NewIndexer(index Index, extractor *extract.Extractor, language string, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		index:     index,
		extractor: extractor,
		splitter:  NewSectionSplitter(0),
		language:  language,
		logger:    zap.NewNop(),
		loaded:    make(map[string]loadedFile),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// seedFile is the YAML/JSON passage format. File-level fields fill passages that omit them.
type seedFile struct {
	DocumentID    string           `yaml:"document_id"`
	ActName       string           `yaml:"act_name"`
	Language      string           `yaml:"language"`
	SourceVersion string           `yaml:"source_version"`
	Passages      []models.Passage `yaml:"passages"`
}

// Load loads every file or directory in paths and returns the number of passages indexed.
// A failing path does not stop the others; all failures are returned together.
func (idx *Indexer) Load(ctx context.Context, paths []string) (int, error) {
	var (
		total  int
		result *multierror.Error
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("stat %s: %w", p, err))
			continue
		}
		var n int
		if info.IsDir() {
			n, err = idx.LoadDirectory(ctx, p)
		} else {
			n, err = idx.LoadFile(ctx, p)
		}
		total += n
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return total, result.ErrorOrNil()
}

// LoadFile reads a source file and indexes its passages, returning how many were indexed.
// Reloading an unchanged file indexes nothing.
func (idx *Indexer) LoadFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", absPath)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}
	version := fileid.SourceVersion(raw)

	idx.mu.Lock()
	prev, seen := idx.loaded[absPath]
	idx.mu.Unlock()
	if seen && prev.version == version {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return 0, nil
	}

	passages, err := idx.parse(absPath, raw, version)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := idx.index.Add(ctx, passages); err != nil {
		return 0, fmt.Errorf("%s: %w", absPath, err)
	}

	keys := make([]models.PassageKey, len(passages))
	current := make(map[models.PassageKey]struct{}, len(passages))
	for i, p := range passages {
		keys[i] = p.Key()
		current[keys[i]] = struct{}{}
	}
	var result *multierror.Error
	for _, k := range prev.keys {
		if _, ok := current[k]; ok {
			continue
		}
		if err := idx.index.Remove(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove stale %s: %w", k, err))
		}
	}

	idx.mu.Lock()
	idx.loaded[absPath] = loadedFile{version: version, keys: keys}
	idx.mu.Unlock()
	idx.changed()
	idx.logger.Debug("indexer file loaded",
		zap.String("path", absPath),
		zap.Int("passages", len(passages)),
		zap.String("source_version", version))
	return len(passages), result.ErrorOrNil()
}

// RemoveFile drops every passage a previously loaded file contributed.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	idx.mu.Lock()
	prev, ok := idx.loaded[absPath]
	delete(idx.loaded, absPath)
	idx.mu.Unlock()
	if !ok {
		return nil
	}
	idx.logger.Debug("indexer removing file", zap.String("path", absPath), zap.Int("passages", len(prev.keys)))
	var result *multierror.Error
	for _, k := range prev.keys {
		if err := idx.index.Remove(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", k, err))
		}
	}
	idx.changed()
	return result.ErrorOrNil()
}

func (idx *Indexer) changed() {
	if idx.onChange != nil {
		idx.onChange()
	}
}

// LoadDirectory walks dir recursively and loads each regular file whose extension is allowed.
// Returns the number of passages indexed and the first error encountered, if any.
func (idx *Indexer) LoadDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(idx.allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), idx.allowedExts) {
			return nil
		}
		// Resolve symlinks so we only load regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		loaded, loadErr := idx.LoadFile(ctx, path)
		n += loaded
		return loadErr
	})
	return n, err
}

// Loaded returns the absolute paths of every file currently contributing passages.
func (idx *Indexer) Loaded() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]string, 0, len(idx.loaded))
	for p := range idx.loaded {
		out = append(out, p)
	}
	return out
}

func (idx *Indexer) parse(path string, raw []byte, version string) ([]models.Passage, error) {
	defaults := models.Passage{
		DocumentID:    fileid.FileDocID(path),
		Language:      idx.language,
		SourceVersion: version,
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return parseSeed(raw, defaults)
	case ".xlsx":
		rows, err := idx.extractor.Rows(path)
		if err != nil {
			return nil, err
		}
		return parseRows(rows, defaults)
	default:
		text, err := idx.extractor.ExtractBytes(raw, strings.ToLower(filepath.Ext(path)))
		if err != nil {
			return nil, fmt.Errorf("extract content: %w", err)
		}
		return idx.parseAct(text, defaults)
	}
}

// parseSeed reads the seed format. yaml.v3 also accepts JSON documents.
func parseSeed(raw []byte, defaults models.Passage) ([]models.Passage, error) {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if seed.DocumentID != "" {
		defaults.DocumentID = seed.DocumentID
	}
	if seed.Language != "" {
		defaults.Language = seed.Language
	}
	if seed.SourceVersion != "" {
		defaults.SourceVersion = seed.SourceVersion
	}
	defaults.ActName = seed.ActName
	out := make([]models.Passage, 0, len(seed.Passages))
	for i, p := range seed.Passages {
		p, err := finish(p, defaults)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

var rowColumns = []string{"document_id", "act_name", "section", "title", "text", "language", "source_version"}

// parseRows reads a passage table whose first row names the columns.
func parseRows(rows [][]string, defaults models.Passage) ([]models.Passage, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	col := make(map[string]int)
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"section", "text"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrInvalidPassage, required)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	out := make([]models.Passage, 0, len(rows)-1)
	for r, row := range rows[1:] {
		v := make(map[string]string, len(rowColumns))
		blank := true
		for _, name := range rowColumns {
			v[name] = cell(row, name)
			blank = blank && v[name] == ""
		}
		if blank {
			continue
		}
		p, err := finish(models.Passage{
			DocumentID:    v["document_id"],
			ActName:       v["act_name"],
			Section:       v["section"],
			Title:         v["title"],
			Text:          v["text"],
			Language:      v["language"],
			SourceVersion: v["source_version"],
		}, defaults)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r+2, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// parseAct splits an act's text into passages. The first line before any section heading is
// taken as the act name.
func (idx *Indexer) parseAct(text string, defaults models.Passage) ([]models.Passage, error) {
	preamble, sections := idx.splitter.Split(text)
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no section headings found", ErrInvalidPassage)
	}
	if first, _, _ := strings.Cut(preamble, "\n"); strings.TrimSpace(first) != "" {
		defaults.ActName = strings.TrimSpace(first)
	} else {
		defaults.ActName = defaults.DocumentID
	}
	out := make([]models.Passage, 0, len(sections))
	for _, s := range sections {
		body := s.Body
		if body == "" {
			body = s.Title
		}
		p, err := finish(models.Passage{Section: s.Number, Title: s.Title, Text: body}, defaults)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s.Number, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// finish fills empty fields from defaults, normalizes text and checks the passage is usable.
func finish(p, defaults models.Passage) (models.Passage, error) {
	if p.DocumentID == "" {
		p.DocumentID = defaults.DocumentID
	}
	if p.ActName == "" {
		p.ActName = defaults.ActName
	}
	if p.Language == "" {
		p.Language = defaults.Language
	}
	if p.SourceVersion == "" {
		p.SourceVersion = defaults.SourceVersion
	}
	p.Section = strings.TrimSpace(p.Section)
	p.Title = Preprocess(p.Title)
	p.Text = Preprocess(p.Text)
	p.Relevance, p.Lexical, p.Combined = 0, 0, 0
	if p.DocumentID == "" || p.Section == "" || p.Text == "" {
		return p, fmt.Errorf("%w: document_id, section and text are required", ErrInvalidPassage)
	}
	return p, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
