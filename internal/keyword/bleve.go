package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/nyaya/internal/models"
)

// passageDoc is the indexed form of a passage.
type passageDoc struct {
	ActName string `json:"act_name"`
	Section string `json:"section"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + unicode tokenize, no stemming) so Hindi and Marathi
	// terms are matched as written.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("act_name", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	sectionMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("section", sectionMapping)
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an in-memory
// index. If you change the index mapping, remove the index directory and reload passages.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes a passage under its key.
func (b *BleveIndex) Index(ctx context.Context, p *models.Passage) error {
	return b.index.Index(p.Key().String(), passageDoc{
		ActName: p.ActName,
		Section: strings.ToLower(p.Section),
		Title:   p.Title,
		Text:    p.Text,
	})
}

// Search runs the query over heading fields and passage text and merges the two additively:
// score = heading*TitleBoost + text, scaled by the squared fraction of query terms matched.
// A query term equal to a passage's section number adds an exact section match.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}

	heading := blevequery.NewDisjunctionQuery([]blevequery.Query{
		b.fieldQuery(query, terms, "act_name", fuzzyEnabled, fuzziness),
		b.fieldQuery(query, terms, "title", fuzzyEnabled, fuzziness),
	})
	headingHits, err := b.run(ctx, heading, reqSize)
	if err != nil {
		return nil, fmt.Errorf("Bleve heading search failed: %w", err)
	}
	textHits, err := b.run(ctx, b.fieldQuery(query, terms, "text", fuzzyEnabled, fuzziness), reqSize)
	if err != nil {
		return nil, fmt.Errorf("Bleve text search failed: %w", err)
	}
	sectionQueries := make([]blevequery.Query, 0, len(terms))
	for _, t := range terms {
		tq := bleve.NewTermQuery(t)
		tq.SetField("section")
		sectionQueries = append(sectionQueries, tq)
	}
	sectionHits, err := b.run(ctx, bleve.NewDisjunctionQuery(sectionQueries...), reqSize)
	if err != nil {
		return nil, fmt.Errorf("Bleve section search failed: %w", err)
	}

	scores := make(map[string]float64)
	for id, s := range headingHits {
		scores[id] += s * titleBoost
	}
	for id, s := range textHits {
		scores[id] += s
	}
	for id, s := range sectionHits {
		scores[id] += s
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness)
	}

	merged := make([]*KeywordResult, 0, len(scores))
	for id, score := range scores {
		key, ok := models.ParsePassageKey(id)
		if !ok {
			continue
		}
		if len(terms) > 1 {
			matched := max(coverage[id], 1)
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		merged = append(merged, &KeywordResult{Key: key, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Key.String() < merged[j].Key.String()
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Score
	}
	return out, nil
}

// fieldQuery builds a match query on field, or a disjunction of fuzzy term queries.
func (b *BleveIndex) fieldQuery(query string, terms []string, field string, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many distinct query terms each passage matches in any field.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if fuzzy {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		hits, err := b.run(ctx, q, reqSize)
		if err != nil {
			continue
		}
		for id := range hits {
			coverage[id]++
		}
	}
	return coverage
}

// Delete removes a passage from the index.
func (b *BleveIndex) Delete(ctx context.Context, key models.PassageKey) error {
	return b.index.Delete(key.String())
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of passages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// tokenizeQuery splits query into lowercase terms with edge punctuation removed.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}।")
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}
