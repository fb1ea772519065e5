package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/logger"

	"github.com/elastic/go-elasticsearch/v8"
)

// ReferenceLookup returns reference passages similar to a query
type ReferenceLookup interface {
	SimilarReferences(ctx context.Context, query string, k int) ([]string, error)
}

// NoopReferenceLookup never returns references
type NoopReferenceLookup struct{}

// SimilarReferences implements ReferenceLookup
func (NoopReferenceLookup) SimilarReferences(context.Context, string, int) ([]string, error) {
	return nil, nil
}

// ElasticReferenceLookup searches an Elasticsearch index of reference documents
type ElasticReferenceLookup struct {
	client *elasticsearch.Client
	index  string
	fields []string
}

// NewElasticReferenceLookup creates a lookup over index. Documents must carry a "text" field.
func NewElasticReferenceLookup(client *elasticsearch.Client, index string) *ElasticReferenceLookup {
	return &ElasticReferenceLookup{
		client: client,
		index:  index,
		fields: []string{"title", "text"},
	}
}

// SimilarReferences returns up to k non-blank passages ranked by relevance
func (l *ElasticReferenceLookup) SimilarReferences(ctx context.Context, query string, k int) ([]string, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	body := map[string]interface{}{
		"size": k,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": l.fields,
			},
		},
		"_source": []string{"text"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := l.client.Search(
		l.client.Search.WithContext(ctx),
		l.client.Search.WithIndex(l.index),
		l.client.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search references: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var result esResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	refs := make([]string, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if text := strings.TrimSpace(hit.Source.Text); text != "" {
			refs = append(refs, text)
		}
	}
	return refs, nil
}

type esResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				Text string `json:"text"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewReferenceLookup selects the lookup driver from configuration
func NewReferenceLookup(cfg *config.Config, log *logger.Logger) (ReferenceLookup, error) {
	switch cfg.Knowledge.Driver {
	case "", "none":
		return NoopReferenceLookup{}, nil
	case "elasticsearch":
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.Knowledge.Addresses,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		log.Info("Knowledge lookup enabled", "addresses", cfg.Knowledge.Addresses, "index", cfg.Knowledge.Index)
		return NewElasticReferenceLookup(client, cfg.Knowledge.Index), nil
	default:
		return nil, fmt.Errorf("unknown knowledge driver %q", cfg.Knowledge.Driver)
	}
}
