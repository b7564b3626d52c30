package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/hyperjump/nyaya/internal/embedding"
	"github.com/hyperjump/nyaya/internal/keyword"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/search"
	"github.com/hyperjump/nyaya/internal/storage"
	"github.com/hyperjump/nyaya/internal/vector"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

type memIndex struct {
	passages map[models.PassageKey]models.Passage
	adds     int
	failAdd  error
}

func newMemIndex() *memIndex {
	return &memIndex{passages: map[models.PassageKey]models.Passage{}}
}

func (m *memIndex) Add(_ context.Context, passages []models.Passage) error {
	if m.failAdd != nil {
		return m.failAdd
	}
	m.adds++
	for _, p := range passages {
		m.passages[p.Key()] = p
	}
	return nil
}

func (m *memIndex) Remove(_ context.Context, key models.PassageKey) error {
	delete(m.passages, key)
	return nil
}

func (m *memIndex) sections(doc string) []string {
	var out []string
	for k := range m.passages {
		if k.DocumentID == doc {
			out = append(out, k.Section)
		}
	}
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".yaml", []string{".yaml", ".json"}, true},
		{".PDF", []string{".pdf"}, true},
		{".json", []string{"yaml", "json"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

const wagesSeed = `
act_name: Payment of Wages Act, 1936
document_id: pw-act-1936
source_version: "2017-amendment"
passages:
  - section: "3"
    title: Responsibility for payment of wages
    text: |
      Every employer shall be responsible for the payment
      of all wages required to be paid.
  - section: "5"
    title: Time of payment of wages
    text: Wages shall be paid before the expiry of the seventh day.
    language: hi
`

func TestLoadFile_yamlSeed(t *testing.T) {
	dir := t.TempDir()
	idx := newMemIndex()
	ix := NewIndexer(idx, nil, "en")

	n, err := ix.LoadFile(context.Background(), writeFile(t, dir, "wages.yaml", wagesSeed))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("loaded %d passages, want 2", n)
	}
	p := idx.passages[models.PassageKey{DocumentID: "pw-act-1936", Section: "3"}]
	if p.ActName != "Payment of Wages Act, 1936" || p.Language != "en" || p.SourceVersion != "2017-amendment" {
		t.Errorf("defaults not applied: %+v", p)
	}
	if p.Text != "Every employer shall be responsible for the payment of all wages required to be paid." {
		t.Errorf("text not normalized: %q", p.Text)
	}
	if got := idx.passages[models.PassageKey{DocumentID: "pw-act-1936", Section: "5"}].Language; got != "hi" {
		t.Errorf("passage language override: got %q", got)
	}
}

func TestLoadFile_jsonSeedDefaultsFromFileName(t *testing.T) {
	dir := t.TempDir()
	idx := newMemIndex()
	path := writeFile(t, dir, "Bonus_Act.json",
		`{"act_name":"Payment of Bonus Act, 1965","passages":[{"section":"8","title":"Eligibility for bonus","text":"Every employee shall be entitled to be paid bonus."}]}`)

	if _, err := NewIndexer(idx, nil, "en").LoadFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	p, ok := idx.passages[models.PassageKey{DocumentID: "bonus-act", Section: "8"}]
	if !ok {
		t.Fatalf("expected passage keyed by file name, got %v", idx.passages)
	}
	if p.SourceVersion == "" {
		t.Error("source version should default to the content hash")
	}
}

func TestLoadFile_invalidPassage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "act_name: X\npassages:\n  - section: \"1\"\n")
	_, err := NewIndexer(newMemIndex(), nil, "en").LoadFile(context.Background(), path)
	if !errors.Is(err, ErrInvalidPassage) {
		t.Errorf("expected ErrInvalidPassage, got %v", err)
	}
}

func TestLoadFile_unchangedSkippedAndStaleRemoved(t *testing.T) {
	dir := t.TempDir()
	idx := newMemIndex()
	changes := 0
	ix := NewIndexer(idx, nil, "en", OnChange(func() { changes++ }))
	ctx := context.Background()
	path := writeFile(t, dir, "wages.yaml", wagesSeed)

	if _, err := ix.LoadFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	n, err := ix.LoadFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || idx.adds != 1 || changes != 1 {
		t.Errorf("unchanged file should be skipped: n=%d adds=%d changes=%d", n, idx.adds, changes)
	}

	writeFile(t, dir, "wages.yaml", `
act_name: Payment of Wages Act, 1936
document_id: pw-act-1936
passages:
  - section: "3"
    text: Every employer shall be responsible for the payment of wages.
`)
	if _, err := ix.LoadFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if got := idx.sections("pw-act-1936"); len(got) != 1 || got[0] != "3" {
		t.Errorf("stale section not removed: %v", got)
	}

	if err := ix.RemoveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if len(idx.passages) != 0 || len(ix.Loaded()) != 0 {
		t.Errorf("RemoveFile left passages=%v loaded=%v", idx.passages, ix.Loaded())
	}
	if err := ix.RemoveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if changes != 3 {
		t.Errorf("expected 3 change notifications, got %d", changes)
	}
}

func TestLoadFile_addFailure(t *testing.T) {
	dir := t.TempDir()
	idx := newMemIndex()
	idx.failAdd = errors.New("disk full")
	ix := NewIndexer(idx, nil, "en")
	path := writeFile(t, dir, "wages.yaml", wagesSeed)
	if _, err := ix.LoadFile(context.Background(), path); err == nil {
		t.Fatal("expected error")
	}
	if len(ix.Loaded()) != 0 {
		t.Error("a failed load must not be remembered")
	}
}

const idActText = `THE INDUSTRIAL DISPUTES ACT, 1947
An Act to make provision for the investigation and settlement of industrial disputes.
1. Short title, extent and commencement.—(1) This Act may be called the Industrial Disputes Act, 1947.
(2) It extends to the whole of India.
2. Definitions.—In this Act, unless there is anything repugnant in the subject or context,
1. "appropriate Government" means the Central Government.
25F. Conditions precedent to retrenchment of workmen.—No workman shall be retrenched until
he has been given one month's notice in writing.
`

func TestLoadFile_plainTextAct(t *testing.T) {
	dir := t.TempDir()
	idx := newMemIndex()
	if _, err := NewIndexer(idx, nil, "en").LoadFile(context.Background(), writeFile(t, dir, "ida-1947.txt", idActText)); err != nil {
		t.Fatal(err)
	}
	got := idx.sections("ida-1947")
	want := []string{"1", "2", "25F"}
	if len(got) != len(want) {
		t.Fatalf("sections: got %v want %v", got, want)
	}
	p := idx.passages[models.PassageKey{DocumentID: "ida-1947", Section: "25F"}]
	if p.ActName != "THE INDUSTRIAL DISPUTES ACT, 1947" {
		t.Errorf("act name: got %q", p.ActName)
	}
	if p.Title != "Conditions precedent to retrenchment of workmen" {
		t.Errorf("title: got %q", p.Title)
	}
	if p.Text != "No workman shall be retrenched until he has been given one month's notice in writing." {
		t.Errorf("text: got %q", p.Text)
	}
	defs := idx.passages[models.PassageKey{DocumentID: "ida-1947", Section: "2"}]
	if want := `"appropriate Government" means`; !strings.Contains(defs.Text, want) {
		t.Errorf("numbered list should stay in section 2: %q", defs.Text)
	}
}

func TestLoadFile_plainTextWithoutSections(t *testing.T) {
	dir := t.TempDir()
	_, err := NewIndexer(newMemIndex(), nil, "en").LoadFile(context.Background(), writeFile(t, dir, "notes.txt", "just some notes"))
	if !errors.Is(err, ErrInvalidPassage) {
		t.Errorf("expected ErrInvalidPassage, got %v", err)
	}
}

func TestLoadFile_excelWithExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maternity.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Section", "Title", "Text", "Act_Name"},
		{"5", "Right to payment of maternity benefit", "Every woman shall be entitled to maternity benefit.", "Maternity Benefit Act, 1961"},
		{"", "", "", ""},
		{"12", "Dismissal during absence", "No employer shall discharge a woman during her absence.", "Maternity Benefit Act, 1961"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	idx := newMemIndex()
	n, err := NewIndexer(idx, nil, "en").LoadFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("loaded %d, want 2 (blank rows skipped)", n)
	}
	p := idx.passages[models.PassageKey{DocumentID: "maternity", Section: "12"}]
	if p.ActName != "Maternity Benefit Act, 1961" || p.Title != "Dismissal during absence" {
		t.Errorf("unexpected passage: %+v", p)
	}
}

func TestParseRows_missingColumn(t *testing.T) {
	_, err := parseRows([][]string{{"section", "title"}}, models.Passage{DocumentID: "d"})
	if !errors.Is(err, ErrInvalidPassage) {
		t.Errorf("expected ErrInvalidPassage, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "labour")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "wages.yaml", wagesSeed)
	writeFile(t, sub, "ida-1947.txt", idActText)
	writeFile(t, dir, "README.rst", "ignored")

	idx := newMemIndex()
	ix := NewIndexer(idx, nil, "en", WithExtensions(".yaml", "txt"))
	n, err := ix.LoadDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("loaded %d passages, want 5", n)
	}
	if len(ix.Loaded()) != 2 {
		t.Errorf("loaded files: %v", ix.Loaded())
	}
}

func TestLoad_collectsErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "wages.yaml", wagesSeed)
	idx := newMemIndex()
	n, err := NewIndexer(idx, nil, "en").Load(context.Background(), []string{filepath.Join(dir, "missing.yaml"), good})
	if err == nil {
		t.Error("expected error for missing path")
	}
	if n != 2 {
		t.Errorf("good path should still load: n=%d", n)
	}
}

func TestLoad_intoHybridIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "passages.db"))
	if err != nil {
		t.Fatal(err)
	}
	vecIndex, err := vector.NewMemoryIndex(64)
	if err != nil {
		t.Fatal(err)
	}
	kwIndex, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	h := search.NewHybridIndex(store, embedding.NewHashingEmbedder(64, 10), vecIndex, kwIndex, search.Options{TitleBoost: 2})
	t.Cleanup(func() { _ = h.Close() })

	ctx := context.Background()
	if _, err := NewIndexer(h, nil, "en").LoadFile(ctx, writeFile(t, dir, "ida-1947.txt", idActText)); err != nil {
		t.Fatal(err)
	}
	count, err := h.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("stored %d passages, want 3", count)
	}
	cands, err := h.Search(ctx, "retrenchment notice", 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range cands {
		if c.Passage.Section == "25F" && c.Lexical > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a lexical hit on section 25F, got %+v", cands)
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b  ") != "a b" {
		t.Error("expected trimmed and collapsed spaces")
	}
	if got := Preprocess("retrench\u00adment\u200b notice"); got != "retrenchment notice" {
		t.Errorf("invisible runes not dropped: %q", got)
	}
	if got := Preprocess("\ufb01xing of wages under section \uff12\uff15"); got != "fixing of wages under section 25" {
		t.Errorf("compatibility forms not folded: %q", got)
	}
	if got := Preprocess("मज़दूरी\n  का भुगतान"); got != norm.NFKC.String("मज़दूरी का भुगतान") {
		t.Errorf("devanagari text changed: %q", got)
	}
}
