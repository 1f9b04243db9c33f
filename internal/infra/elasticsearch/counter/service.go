// counter keeps cluster-wide atomic counters as Elasticsearch documents, using
// seq_no and primary_term for optimistic concurrency control.
package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/counter"
	"github.com/lloydmeta/datahub/internal/domain/metadata"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".datahub_counters")

type EsService struct {
	client             *elasticsearch.Client
	conflictRetryTimes uint
	getUTC             func() time.Time // for mocking
}

// NewService returns a counter.Service. Read-modify-write operations are
// retried up to conflictRetryTimes when another writer gets in first.
func NewService(client *elasticsearch.Client, conflictRetryTimes uint) counter.Service {
	return &EsService{
		client:             client,
		conflictRetryTimes: conflictRetryTimes,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (e *EsService) Counter(name string) counter.Counter {
	return &esCounter{service: e, id: common.DocumentID(name)}
}

type esCounter struct {
	service *EsService
	id      common.DocumentID
}

func (c *esCounter) Get(ctx context.Context) (int64, error) {
	current, err := c.service.get(ctx, c.id)
	if err != nil {
		return 0, err
	}
	return current.value, nil
}

// Set overwrites without a version check
func (c *esCounter) Set(ctx context.Context, value int64) error {
	_, err := c.service.write(ctx, c.id, value, nil)
	return err
}

func (c *esCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	var previous int64
	err := c.service.retryOnConflict(ctx, c.id, func(current *versionedValue) error {
		previous = current.value
		_, err := c.service.write(ctx, c.id, current.value+1, current)
		return err
	})
	return previous, err
}

func (c *esCounter) CompareAndSet(ctx context.Context, expected int64, update int64) (bool, error) {
	swapped := false
	err := c.service.retryOnConflict(ctx, c.id, func(current *versionedValue) error {
		if current.value != expected {
			swapped = false
			return nil
		}
		_, err := c.service.write(ctx, c.id, update, current)
		swapped = err == nil
		return err
	})
	return swapped, err
}

// versionedValue is a counter as last read. version is nil when the counter
// document does not exist yet.
type versionedValue struct {
	value   int64
	version *metadata.Version
}

// retryOnConflict reads the counter and hands it to attempt, starting over
// whenever the write inside attempt loses a race.
func (e *EsService) retryOnConflict(ctx context.Context, id common.DocumentID, attempt func(current *versionedValue) error) error {
	var lastErr error
	for i := uint(0); i <= e.conflictRetryTimes; i++ {
		current, err := e.get(ctx, id)
		if err != nil {
			return err
		}
		err = attempt(current)
		switch err.(type) {
		case nil:
			return nil
		case Conflict:
			lastErr = err
			log.Debug().Str("counter", string(id)).Uint("attempt", i).Msg("Counter version conflict, retrying")
		default:
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (e *EsService) get(ctx context.Context, id common.DocumentID) (*versionedValue, error) {
	req := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(id),
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var resp common.EsGetResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		var persisted persistedCounter
		if err := json.Unmarshal(resp.Source, &persisted); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		version := resp.Version()
		return &versionedValue{value: persisted.Value, version: &version}, nil
	case 404:
		return &versionedValue{value: 0, version: nil}, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// write persists value. With a nil expected the document is overwritten
// unconditionally; otherwise it must still be at the expected version (or
// still be missing).
func (e *EsService) write(ctx context.Context, id common.DocumentID, value int64, expected *versionedValue) (*metadata.Version, error) {
	asBytes, err := json.Marshal(persistedCounter{Value: value, ModifiedAt: e.getUTC()})
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	var rawResp *esapi.Response
	switch {
	case expected == nil:
		req := esapi.IndexRequest{
			Index:      string(IndexName),
			DocumentID: string(id),
			Body:       bytes.NewReader(asBytes),
		}
		rawResp, err = req.Do(ctx, e.client)
	case expected.version == nil:
		req := esapi.CreateRequest{
			Index:      string(IndexName),
			DocumentID: string(id),
			Body:       bytes.NewReader(asBytes),
		}
		rawResp, err = req.Do(ctx, e.client)
	default:
		req := esapi.IndexRequest{
			Index:         string(IndexName),
			DocumentID:    string(id),
			Body:          bytes.NewReader(asBytes),
			IfSeqNo:       esapi.IntPtr(int(expected.version.SeqNum)),
			IfPrimaryTerm: esapi.IntPtr(int(expected.version.PrimaryTerm)),
		}
		rawResp, err = req.Do(ctx, e.client)
	}
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch {
	case common.IsOk(rawResp):
		var resp common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		version := resp.Version()
		return &version, nil
	case rawResp.StatusCode == 409:
		return nil, Conflict{ID: id}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

type persistedCounter struct {
	Value      int64     `json:"value"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Conflict is returned when a counter changed between read and write more
// times than we were willing to retry
type Conflict struct {
	ID common.DocumentID
}

func (c Conflict) Error() string {
	return fmt.Sprintf("Version conflict on counter [%s]", c.ID)
}
