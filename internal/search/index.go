package search

import (
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/devblac/peep-indexer/internal/peep"
)

// Index wraps a Bleve full-text index of peeps.
type Index struct {
	index bleve.Index
}

// Document is the indexed projection of a peep.
type Document struct {
	ID      string
	Number  uint64
	Account string
	Variant string
	Content string
}

// Hit is a single search result.
type Hit struct {
	ID        string              `json:"id"`
	Score     float64             `json:"score"`
	Account   string              `json:"account,omitempty"`
	Variant   string              `json:"variant,omitempty"`
	Fragments map[string][]string `json:"fragments,omitempty"`
}

// Open opens or creates a Bleve index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx}, nil
}

// OpenMem builds an in-memory index.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create mem index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = "en"

	keyword := bleve.NewKeywordFieldMapping()

	number := bleve.NewNumericFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("Content", content)
	docMapping.AddFieldMappingsAt("Account", keyword)
	docMapping.AddFieldMappingsAt("Variant", keyword)
	docMapping.AddFieldMappingsAt("Number", number)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

func toDocument(r peep.Record) Document {
	return Document{
		ID:      r.ID,
		Number:  r.Number,
		Account: r.Account,
		Variant: string(r.Variant),
		Content: r.Content.OrZero(),
	}
}

// IndexPeep adds a record to the index.
func (i *Index) IndexPeep(r peep.Record) error {
	if err := i.index.Index(r.ID, toDocument(r)); err != nil {
		return fmt.Errorf("index peep %s: %w", r.ID, err)
	}
	return nil
}

// Search runs a query string query (quotes, +/-, field:value) and returns up to limit hits.
func (i *Index) Search(queryStr string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	query := bleve.NewQueryStringQuery(queryStr)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"Account", "Variant"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("Content")

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Fragments: h.Fragments}
		if v, ok := h.Fields["Account"].(string); ok {
			hit.Account = v
		}
		if v, ok := h.Fields["Variant"].(string); ok {
			hit.Variant = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Rebuild indexes every record yielded by each in batches.
func (i *Index) Rebuild(each func(fn func(peep.Record) error) error) (int, error) {
	const batchSize = 500
	batch := i.index.NewBatch()
	total := 0

	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		batch.Reset()
		return nil
	}

	err := each(func(r peep.Record) error {
		if err := batch.Index(r.ID, toDocument(r)); err != nil {
			return fmt.Errorf("batch index %s: %w", r.ID, err)
		}
		total++
		if batch.Size() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}

// Count returns the number of documents in the index.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
