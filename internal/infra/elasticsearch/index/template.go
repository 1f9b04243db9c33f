package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/channel"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/counter"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/leader"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/tree"
)

type TemplateName string
type Pattern = string
type Json = map[string]interface{}
type Mappings = map[string]interface{}

// Template defines a template to be applied when setup is run
type Template struct {
	name     TemplateName // ignored when serialising because the name doesn't start with a capital
	Patterns []Pattern    `json:"index_patterns"`
	Settings Json         `json:"settings,omitempty"`
	Mappings Mappings     `json:"mappings,omitempty"`
}

func (t *Template) Name() TemplateName {
	return t.name
}

func NewTemplate(name TemplateName, patterns []Pattern, settings Json, mappings Mappings) Template {
	return Template{name: name, Patterns: patterns, Settings: settings, Mappings: mappings}
}

// TemplatesSetup holds a list of Templates and has the ability to actually
// send them to the server
type TemplatesSetup struct {
	esClient  *elasticsearch.Client
	Templates []Template
}

// Returns the default Template setter upper
func DefaultTemplateSetup(esClient *elasticsearch.Client) TemplatesSetup {
	return TemplatesSetup{
		esClient: esClient,
		Templates: []Template{
			ChannelsTemplate,
			TimeIndexTemplate,
			CountersTemplate,
			LeaderLocksTemplate,
		},
	}
}

// Runs the setup
func (s *TemplatesSetup) Run(ctx context.Context) error {
	var errors []error
	for _, template := range s.Templates {
		if err := s.putTemplate(ctx, &template); err != nil {
			errors = append(errors, err)
		}
	}
	if len(errors) != 0 {
		return PutTemplateErrors{Errors: errors}
	} else {
		return nil
	}
}

// Checks if the current TemplatesSetup was run.
//
// This is currently a shallow check for template presence only.
func (s *TemplatesSetup) Check(ctx context.Context) error {
	indexTemplateNames := make([]string, 0, len(s.Templates))
	for _, t := range s.Templates {
		indexTemplateNames = append(indexTemplateNames, string(t.Name()))
	}

	indexTemplatesGetReq := esapi.IndicesGetTemplateRequest{Name: indexTemplateNames}

	rawResp, err := indexTemplatesGetReq.Do(ctx, s.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var mappings map[string]interface{}
		if err = json.NewDecoder(rawResp.Body).Decode(&mappings); err != nil {
			return common.JsonSerdesErr{Underlying: []error{err}}
		}
		var notPresent []string
		for _, name := range indexTemplateNames {
			if _, ok := mappings[name]; !ok {
				notPresent = append(notPresent, name)
			}
		}
		if len(notPresent) != 0 {
			return TemplatesNotInstalled{NotInstalled: notPresent}
		} else {
			return nil
		}
	case 404:
		return TemplatesNotInstalled{NotInstalled: indexTemplateNames}
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (s *TemplatesSetup) putTemplate(ctx context.Context, t *Template) error {
	asBytes, err := json.Marshal(t)
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	log.Info().RawJSON("body", asBytes).Str("template_name", string(t.name)).Msg("Applying template")
	putTemplateReq := esapi.IndicesPutTemplateRequest{
		Body: bytes.NewReader(asBytes),
		Name: string(t.name),
	}
	rawResp, err := putTemplateReq.Do(ctx, s.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

type PutTemplateErrors struct {
	Errors []error
}

func (e PutTemplateErrors) Error() string {
	return fmt.Sprintf("Errors encountered [%v]", e.Errors)
}

type TemplatesNotInstalled struct {
	NotInstalled []string
}

func (t TemplatesNotInstalled) Error() string {
	return fmt.Sprintf("One or more app index templates were not installed. Please run the setup command to install them [%v]", t.NotInstalled)
}

// Templates

var metadataProperties = Json{
	"properties": Json{
		"created_at": Json{
			"type": "date",
		},
		"modified_at": Json{
			"type": "date",
		},
	},
}

// Channel configuration. Small and rarely written, so a single shard
var ChannelsTemplate = NewTemplate(
	".datahub_channels_index_template",
	[]Pattern{Pattern(channel.IndexName)},
	Json{
		"number_of_shards": 1,
	},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"name": Json{
				"type": "keyword",
			},
			"ttl_millis": Json{
				"type": "long",
			},
			"owner": Json{
				"type": "keyword",
			},
			"metadata": metadataProperties,
		},
	},
)

// Live time index nodes. Children are found by exact match on parent, so the
// paths must be keywords
var TimeIndexTemplate = NewTemplate(
	".datahub_time_index_index_template",
	[]Pattern{Pattern(tree.IndexName)},
	Json{
		"refresh_interval": "1s",
	},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"path": Json{
				"type": "keyword",
			},
			"parent": Json{
				"type": "keyword",
			},
			"name": Json{
				"type": "keyword",
			},
			"created_at": Json{
				"type": "date",
			},
		},
	},
)

// Counters are only ever fetched by id
var CountersTemplate = NewTemplate(
	".datahub_counters_index_template",
	[]Pattern{Pattern(counter.IndexName)},
	Json{
		"number_of_shards": 1,
	},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"value": Json{
				"type": "long",
			},
			"modified_at": Json{
				"type": "date",
			},
		},
	},
)

// Just sets source to enabled and dynamic to true since we own this
var LeaderLocksTemplate = NewTemplate(
	".datahub_leader_locks_index_template",
	[]Pattern{Pattern(leader.IndexName)},
	nil,
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true,
	},
)
