package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/metadata"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".datahub_channels")

type EsService struct {
	client         *elasticsearch.Client
	scrollPageSize uint
	scrollTtl      time.Duration
	getUTC         func() time.Time // for mocking
}

func (e *EsService) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func NewService(client *elasticsearch.Client, scrollPageSize uint, scrollTtl time.Duration) channel.Service {
	return &EsService{
		client:         client,
		scrollPageSize: scrollPageSize,
		scrollTtl:      scrollTtl,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (e *EsService) Create(ctx context.Context, newChannel *channel.NewChannel) (*channel.Channel, error) {
	toPersist := e.newToPersistable(newChannel)
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	req := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(newChannel.Name),
		Body:       bytes.NewReader(toPersistBytes),
		Refresh:    "true",
	}

	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case common.IsOk(rawResp):
		var response common.EsCreateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		domainChannel := persistedToDomain(newChannel.Name, &toPersist, response.Version())
		return &domainChannel, nil
	case statusCode == 409:
		return nil, channel.AlreadyExists{Name: newChannel.Name}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) Get(ctx context.Context, name channel.Name) (*channel.Channel, error) {
	req := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(name),
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()

	switch rawResp.StatusCode {
	case 200:
		var resp esHitPersistedChannel
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		domainModel := resp.toDomainChannel()
		return &domainModel, nil
	case 404:
		return nil, channel.NotFound{Name: name}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) Update(ctx context.Context, update *channel.Channel) (*channel.Channel, error) {
	toPersist := e.domainToPersistable(update)
	toPersistBytes, err := json.Marshal(toPersist)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	req := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(update.Name),
		Body:          bytes.NewReader(toPersistBytes),
		IfPrimaryTerm: esapi.IntPtr(int(update.Metadata.Version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(update.Metadata.Version.SeqNum)),
		Refresh:       "true",
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	respStatus := rawResp.StatusCode
	switch {
	case common.IsOk(rawResp):
		var resp common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		updated := persistedToDomain(update.Name, &toPersist, resp.Version())
		return &updated, nil
	case respStatus == 404:
		return nil, channel.NotFound{Name: update.Name}
	case respStatus == 409:
		return nil, channel.InvalidVersion{Name: update.Name}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) Delete(ctx context.Context, name channel.Name) error {
	req := esapi.DeleteRequest{
		Index:      string(IndexName),
		DocumentID: string(name),
		Refresh:    "true",
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch {
	case common.IsOk(rawResp):
		return nil
	case rawResp.StatusCode == 404:
		return channel.NotFound{Name: name}
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) All(ctx context.Context) ([]channel.Channel, error) {
	searchBody := buildListSearchBody(e.scrollPageSize)
	var found []channel.Channel
	err := e.scanChannels(ctx, searchBody, e.scrollTtl, func(channels []channel.Channel) error {
		found = append(found, channels...)
		return nil
	})
	if err != nil {
		return nil, err
	} else {
		return found, nil
	}
}

// scanChannels scrolls through every channel matching searchBody
func (e *EsService) scanChannels(ctx context.Context, searchBody jsonObjMap, scrollTtl time.Duration, doWithBatch func(channels []channel.Channel) error) (err error) {
	log.Debug().Interface("searchBody", searchBody).Msg("Scanning channels")
	channelsWithScrollId, err := e.initSearch(ctx, searchBody, scrollTtl)
	if err != nil {
		return err
	}
	if channelsWithScrollId == nil {
		// no index yet
		return nil
	}
	scanned := channelsWithScrollId.Channels
	var scrollIds []string
	scrollId := channelsWithScrollId.ScrollId
	scrollIds = append(scrollIds, scrollId)
	defer func() {
		if scrollErr := e.clearScroll(ctx, scrollIds); scrollErr != nil && err == nil {
			err = scrollErr
		}
	}()

	for len(scanned) > 0 {
		if err := doWithBatch(scanned); err != nil {
			return err
		}
		next, err := e.scroll(ctx, scrollId, scrollTtl)
		if err != nil {
			return err
		}
		if next == nil {
			break
		}
		scanned = next.Channels
		scrollId = next.ScrollId
		scrollIds = append(scrollIds, next.ScrollId)
	}
	return nil
}

func (e *EsService) initSearch(ctx context.Context, searchBody jsonObjMap, scrollTtl time.Duration) (*channelsWithScrollId, error) {
	searchBodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	searchReq := esapi.SearchRequest{
		Scroll:         scrollTtl,
		Index:          []string{string(IndexName)},
		AllowNoIndices: esapi.BoolPtr(true),
		Body:           bytes.NewReader(searchBodyBytes),
	}

	rawResp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	return processScrollResp(rawResp)
}

func (e *EsService) scroll(ctx context.Context, scrollId string, scrollTtl time.Duration) (*channelsWithScrollId, error) {
	scrollReq := esapi.ScrollRequest{
		Scroll:   scrollTtl,
		ScrollID: scrollId,
	}

	rawResp, err := scrollReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	return processScrollResp(rawResp)
}

func processScrollResp(rawResp *esapi.Response) (*channelsWithScrollId, error) {
	switch rawResp.StatusCode {
	case 200:
		var scrollResp esSearchScrollingResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&scrollResp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		channels := make([]channel.Channel, 0, len(scrollResp.Hits.Hits))
		for _, pChannel := range scrollResp.Hits.Hits {
			channels = append(channels, pChannel.toDomainChannel())
		}
		return &channelsWithScrollId{
			ScrollId: scrollResp.ScrollId,
			Channels: channels,
		}, nil
	case 404:
		return nil, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsService) clearScroll(ctx context.Context, scrollIds []string) error {
	var nonEmpty []string
	for _, id := range scrollIds {
		if id != "" {
			nonEmpty = append(nonEmpty, id)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	clearScrollReq := esapi.ClearScrollRequest{ScrollID: nonEmpty}
	rawResp, err := clearScrollReq.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200, 404:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func buildListSearchBody(pageSize uint) jsonObjMap {
	return jsonObjMap{
		"size":                pageSize,
		"seq_no_primary_term": true,
		"sort": []jsonObjMap{
			{
				"name": jsonObjMap{
					"order": "asc",
				},
			},
		},
		"query": jsonObjMap{
			"match_all": jsonObjMap{},
		},
	}
}

// <-- Persistence models

type jsonObjMap map[string]interface{}

type persistedChannelData struct {
	Name      string                   `json:"name"`
	TTLMillis *int64                   `json:"ttl_millis,omitempty"`
	Owner     *string                  `json:"owner,omitempty"`
	Metadata  common.PersistedMetadata `json:"metadata"`
}

func (e *EsService) newToPersistable(newChannel *channel.NewChannel) persistedChannelData {
	now := e.getUTC()
	return persistedChannelData{
		Name:      string(newChannel.Name),
		TTLMillis: newChannel.TTLMillis,
		Owner:     newChannel.Owner,
		Metadata: common.PersistedMetadata{
			CreatedAt:  now,
			ModifiedAt: now,
		},
	}
}

func (e *EsService) domainToPersistable(c *channel.Channel) persistedChannelData {
	return persistedChannelData{
		Name:      string(c.Name),
		TTLMillis: c.TTLMillis,
		Owner:     c.Owner,
		Metadata: common.PersistedMetadata{
			CreatedAt:  time.Time(c.Metadata.CreatedAt),
			ModifiedAt: e.getUTC(),
		},
	}
}

func persistedToDomain(name channel.Name, data *persistedChannelData, version metadata.Version) channel.Channel {
	return channel.Channel{
		Name:      name,
		TTLMillis: data.TTLMillis,
		Owner:     data.Owner,
		Metadata: metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(data.Metadata.CreatedAt),
			ModifiedAt: metadata.ModifiedAt(data.Metadata.ModifiedAt),
			Version:    version,
		},
	}
}

// persistence models -->

// <-- ES wrapped models

type esHitPersistedChannel struct {
	ID          string               `json:"_id"`
	Index       string               `json:"_index"`
	SeqNum      uint64               `json:"_seq_no"`
	PrimaryTerm uint64               `json:"_primary_term"`
	Source      persistedChannelData `json:"_source"`
}

func (p *esHitPersistedChannel) toDomainChannel() channel.Channel {
	return persistedToDomain(channel.Name(p.ID), &p.Source, p.Version())
}

func (p *esHitPersistedChannel) Version() metadata.Version {
	return metadata.Version{
		SeqNum:      metadata.SeqNum(p.SeqNum),
		PrimaryTerm: metadata.PrimaryTerm(p.PrimaryTerm),
	}
}

type esHitsResult struct {
	Hits []esHitPersistedChannel `json:"hits"`
}

type esSearchScrollingResponse struct {
	ScrollId string       `json:"_scroll_id"`
	Hits     esHitsResult `json:"hits"`
}

type channelsWithScrollId struct {
	ScrollId string
	Channels []channel.Channel
}

// ES wrapped models -->
