// internal/audit/sink.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"tinko-recovery/internal/common/database"
	"tinko-recovery/internal/common/logger"
)

// Sink writes webhook audit documents to Elasticsearch. Indexing is
// best-effort: callers log failures and carry on, the payment flow never
// depends on the audit trail.
type Sink struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewSink(es *database.ElasticsearchClient, index string, log logger.Logger) *Sink {
	return &Sink{
		client: es.Client,
		index:  index,
		logger: log,
	}
}

func (s *Sink) IndexWebhookEvent(ctx context.Context, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal audit document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index audit document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit document: %s", res.Status())
	}
	return nil
}
