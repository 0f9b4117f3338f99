// Package search maintains the evaluations-with-progress read model in
// Elasticsearch. Documents are upserted on autosave flushes and lifecycle
// transitions and queried by the tenant listing operation.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// EvaluationDoc is the denormalized listing record for one
// (session, contractor, stage) submission.
type EvaluationDoc struct {
	SubmissionID   string     `json:"submissionId"`
	SessionID      string     `json:"sessionId"`
	ContractorID   string     `json:"contractorId"`
	ContractorName string     `json:"contractorName,omitempty"`
	TenantID       string     `json:"tenantId"`
	Cycle          int        `json:"cycle"`
	Stage          int        `json:"stage"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	FinalScore     *float64   `json:"finalScore,omitempty"`
	Risk           string     `json:"risk,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// ListQuery filters the tenant listing.
type ListQuery struct {
	TenantID     string
	Status       string
	ContractorID string
	Stage        int
	From         int
	Size         int
}

// ListResult carries one page of the read model.
type ListResult struct {
	Evaluations []EvaluationDoc `json:"evaluations"`
	TotalHits   int64           `json:"totalHits"`
}

type Index struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndex(client *elasticsearch.Client, index string, log logger.Logger) *Index {
	return &Index{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search"}),
	}
}

// Upsert writes the document keyed by submission id, replacing any prior
// version. Indexing failures are surfaced but callers treat the read model
// as eventually consistent.
func (i *Index) Upsert(ctx context.Context, doc *EvaluationDoc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.NewSearchQueryFailedError(i.index, err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: doc.SubmissionID,
		Body:       strings.NewReader(string(body)),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return errors.NewSearchQueryFailedError(i.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSearchQueryFailedError(i.index, fmt.Errorf("index document: %s", res.Status()))
	}
	return nil
}

// List queries the read model for a tenant with optional status, contractor
// and stage filters, newest first.
func (i *Index) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Size <= 0 {
		q.Size = 20
	}

	filterClauses := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"tenantId": q.TenantID},
		},
	}
	if q.Status != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"status": q.Status},
		})
	}
	if q.ContractorID != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"contractorId": q.ContractorID},
		})
	}
	if q.Stage > 0 {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"stage": q.Stage},
		})
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filterClauses,
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"updatedAt": map[string]interface{}{"order": "desc"}},
		},
	}

	body, _ := json.Marshal(queryBody)

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  strings.NewReader(string(body)),
		From:  &q.From,
		Size:  &q.Size,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, errors.NewSearchQueryFailedError(i.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == 404 {
			return nil, &errors.StandardError{
				Code:      errors.ErrCodeIndexNotFound,
				Message:   "Evaluation index not found",
				Details:   i.index,
				Retryable: false,
				Timestamp: time.Now().UTC(),
			}
		}
		return nil, errors.NewSearchQueryFailedError(i.index, fmt.Errorf("search: %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source EvaluationDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewSearchQueryFailedError(i.index, fmt.Errorf("decode search response: %w", err))
	}

	result := &ListResult{TotalHits: parsed.Hits.Total.Value}
	for _, hit := range parsed.Hits.Hits {
		result.Evaluations = append(result.Evaluations, hit.Source)
	}
	return result, nil
}
