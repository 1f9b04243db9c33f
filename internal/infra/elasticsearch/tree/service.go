// tree is a coordination.Tree kept in Elasticsearch: one document per node,
// with the parent path indexed so children can be found with a term query.
package tree

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/lloydmeta/datahub/internal/domain/coordination"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
)

var IndexName = common.IndexName(".datahub_time_index")

const defaultPageSize uint = 1000

type EsTree struct {
	client   *elasticsearch.Client
	pageSize uint
	getUTC   func() time.Time // for mocking
}

// NewTree returns a Tree that lists children pageSize at a time (0 means the
// default of 1000)
func NewTree(client *elasticsearch.Client, pageSize uint) coordination.Tree {
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	return &EsTree{
		client:   client,
		pageSize: pageSize,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreatePersistent creates the node and any missing ancestors. Nodes that
// already exist are left alone. The write is refreshed before returning so
// the node is immediately visible to Children.
func (e *EsTree) CreatePersistent(ctx context.Context, path string) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}
	parent := "/"
	for i, segment := range segments {
		node := joinPath(parent, segment)
		isLeaf := i == len(segments)-1
		if err := e.create(ctx, node, parent, segment, isLeaf); err != nil {
			return err
		}
		parent = node
	}
	return nil
}

func (e *EsTree) create(ctx context.Context, path string, parent string, name string, refresh bool) error {
	asBytes, err := json.Marshal(persistedNode{
		Path:      path,
		Parent:    parent,
		Name:      name,
		CreatedAt: e.getUTC(),
	})
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	req := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: nodeID(path),
		Body:       bytes.NewReader(asBytes),
	}
	if refresh {
		req.Refresh = "wait_for"
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch {
	case common.IsOk(rawResp):
		return nil
	case rawResp.StatusCode == 409:
		// already there
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

// Children returns the names of the direct children of path, however many
// there are. Returns coordination.NoNode if path itself was never created.
//
// Pages are walked with search_after on name, which is unique among siblings.
func (e *EsTree) Children(ctx context.Context, path string) ([]string, error) {
	normalised := "/" + strings.Join(splitPath(path), "/")
	var names []string
	var after *string
	for {
		page, err := e.childrenPage(ctx, normalised, after)
		if err != nil {
			return nil, err
		}
		names = append(names, page...)
		if uint(len(page)) < e.pageSize {
			break
		}
		last := page[len(page)-1]
		after = &last
	}
	if len(names) == 0 {
		exists, err := e.exists(ctx, normalised)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, coordination.NoNode{Path: path}
		}
		return []string{}, nil
	}
	return names, nil
}

func (e *EsTree) childrenPage(ctx context.Context, parent string, after *string) ([]string, error) {
	searchBody := buildChildrenSearchBody(parent, e.pageSize, after)
	asBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	searchReq := esapi.SearchRequest{
		Index:          []string{string(IndexName)},
		AllowNoIndices: esapi.BoolPtr(true),
		Body:           bytes.NewReader(asBytes),
	}
	rawResp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var resp esSearchResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		names := make([]string, 0, len(resp.Hits.Hits))
		for _, hit := range resp.Hits.Hits {
			names = append(names, hit.Source.Name)
		}
		return names, nil
	case 404:
		return nil, nil
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func buildChildrenSearchBody(parent string, pageSize uint, after *string) jsonObjMap {
	body := jsonObjMap{
		"size":    pageSize,
		"_source": []string{"name"},
		"sort": []jsonObjMap{
			{"name": jsonObjMap{"order": "asc"}},
		},
		"query": jsonObjMap{
			"bool": jsonObjMap{
				"filter": jsonObjMap{
					"term": jsonObjMap{
						"parent": parent,
					},
				},
			},
		},
	}
	if after != nil {
		body["search_after"] = []string{*after}
	}
	return body
}

// DeleteRecursive removes path and its descendants with a delete by query on
// the path field, refreshed so Children stops seeing them straight away.
func (e *EsTree) DeleteRecursive(ctx context.Context, path string) error {
	normalised := "/" + strings.Join(splitPath(path), "/")
	asBytes, err := json.Marshal(buildSubtreeQuery(normalised))
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	req := esapi.DeleteByQueryRequest{
		Index:          []string{string(IndexName)},
		AllowNoIndices: esapi.BoolPtr(true),
		Conflicts:      "proceed",
		Refresh:        esapi.BoolPtr(true),
		Body:           bytes.NewReader(asBytes),
	}
	rawResp, err := req.Do(ctx, e.client)
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

func buildSubtreeQuery(path string) jsonObjMap {
	if path == "/" {
		return jsonObjMap{"query": jsonObjMap{"match_all": jsonObjMap{}}}
	}
	return jsonObjMap{
		"query": jsonObjMap{
			"bool": jsonObjMap{
				"should": []jsonObjMap{
					{"term": jsonObjMap{"path": path}},
					{"prefix": jsonObjMap{"path": path + "/"}},
				},
				"minimum_should_match": 1,
			},
		},
	}
}

func (e *EsTree) exists(ctx context.Context, path string) (bool, error) {
	if path == "/" {
		return true, nil
	}
	req := esapi.ExistsRequest{
		Index:      string(IndexName),
		DocumentID: nodeID(path),
	}
	rawResp, err := req.Do(ctx, e.client)
	if err != nil {
		return false, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, common.UnexpectedEsStatusError(rawResp)
	}
}

// Paths can be longer than ES allows for ids and contain characters that
// need escaping, so the id is a digest.
func nodeID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func joinPath(parent string, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}

type jsonObjMap map[string]interface{}

type persistedNode struct {
	Path      string    `json:"path"`
	Parent    string    `json:"parent"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string        `json:"_id"`
			Source persistedNode `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}
