package search

import (
	"bytes"
	"context"
	"fmt"

	"example.com/iotmon/services/telemetry/config"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Indexer indexes alert-log documents for the dashboard's search view
type Indexer interface {
	IndexDocument(ctx context.Context, id string, document []byte) error
}

// esIndexer implements the Indexer interface
type esIndexer struct {
	client *elasticsearch.Client
	index  string
}

// NewIndexer creates an Elasticsearch-backed indexer. Returns nil when
// indexing is disabled; callers treat a nil Indexer as a no-op.
func NewIndexer(cfg config.ElasticConfig) (Indexer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	esCfg := elasticsearch.Config{
		Addresses: cfg.URLs,
	}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch error: %s", res.String())
	}

	return &esIndexer{client: client, index: cfg.Index}, nil
}

// IndexDocument indexes one alert-log document
func (e *esIndexer) IndexDocument(ctx context.Context, id string, document []byte) error {
	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: id,
		Body:       bytes.NewReader(document),
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}

	return nil
}
