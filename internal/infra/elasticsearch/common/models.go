// common contains models and errors shared by the Elasticsearch backed services
package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/lloydmeta/datahub/internal/domain/metadata"
)

type IndexName string
type DocumentID string

type ElasticsearchErr struct {
	Underlying error
}

func (e ElasticsearchErr) Error() string {
	return fmt.Sprintf("Error from Elasticsearch: %v", e.Underlying)
}

func (e ElasticsearchErr) Unwrap() error {
	return e.Underlying
}

type JsonSerdesErr struct {
	Underlying []error
}

func (e JsonSerdesErr) Error() string {
	return fmt.Sprintf("Error working with JSON: %v", e.Underlying)
}

func (e JsonSerdesErr) Unwrap() error {
	if len(e.Underlying) == 1 {
		return e.Underlying[0]
	} else {
		return fmt.Errorf("Multiple JSON serdes errors: [%v]", e.Underlying)
	}
}

func UnexpectedEsStatusError(rawResp *esapi.Response) ElasticsearchErr {
	var buf bytes.Buffer
	var body string
	if _, err := buf.ReadFrom(rawResp.Body); err == nil {
		body = buf.String()
	}
	return ElasticsearchErr{Underlying: fmt.Errorf("Unexpected status from ES: [%d], body: [%s]", rawResp.StatusCode, body)}
}

type EsCreateResponse struct {
	ID          string `json:"_id"`
	SeqNum      uint64 `json:"_seq_no"`
	PrimaryTerm uint64 `json:"_primary_term"`
}

func (r *EsCreateResponse) Version() metadata.Version {
	return metadata.Version{
		SeqNum:      metadata.SeqNum(r.SeqNum),
		PrimaryTerm: metadata.PrimaryTerm(r.PrimaryTerm),
	}
}

type EsUpdateResponse struct {
	Index       string `json:"_index"`
	ID          string `json:"_id"`
	SeqNum      uint64 `json:"_seq_no"`
	PrimaryTerm uint64 `json:"_primary_term"`
	Result      string `json:"result"`
}

func (r *EsUpdateResponse) Version() metadata.Version {
	return metadata.Version{
		SeqNum:      metadata.SeqNum(r.SeqNum),
		PrimaryTerm: metadata.PrimaryTerm(r.PrimaryTerm),
	}
}

type PersistedMetadata struct {
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// EsGetResponse is a single document fetched by id, with its version
type EsGetResponse struct {
	ID          string          `json:"_id"`
	SeqNum      uint64          `json:"_seq_no"`
	PrimaryTerm uint64          `json:"_primary_term"`
	Found       bool            `json:"found"`
	Source      json.RawMessage `json:"_source"`
}

func (r *EsGetResponse) Version() metadata.Version {
	return metadata.Version{
		SeqNum:      metadata.SeqNum(r.SeqNum),
		PrimaryTerm: metadata.PrimaryTerm(r.PrimaryTerm),
	}
}

// IsOk is true for any 2xx status
func IsOk(rawResp *esapi.Response) bool {
	return 200 <= rawResp.StatusCode && rawResp.StatusCode <= 299
}
