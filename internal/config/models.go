package config

import "time"

// TopLevel wraps the app config so that it can be namespaced in the config file
type TopLevel struct {
	Datahub Datahub `json:"datahub" mapstructure:"datahub"`
}

type Datahub struct {
	Server App `json:"server" mapstructure:"server"`
}

type App struct {
	BindAddress     string              `json:"bind_address" mapstructure:"bind_address"`
	ShutdownTimeout time.Duration       `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Environment     string              `json:"environment" mapstructure:"environment"`
	Elasticsearch   ElasticsearchClient `json:"elasticsearch" mapstructure:"elasticsearch"`
	Redis           *RedisClient        `json:"redis,omitempty" mapstructure:"redis"`
	Storage         Storage             `json:"storage" mapstructure:"storage"`
	Coordination    Coordination        `json:"coordination" mapstructure:"coordination"`
	Counters        Counters            `json:"counters" mapstructure:"counters"`
	Locks           Locks               `json:"locks" mapstructure:"locks"`
	Content         Content             `json:"content" mapstructure:"content"`
	Channels        Channels            `json:"channels" mapstructure:"channels"`
	Consolidation   Consolidation       `json:"consolidation" mapstructure:"consolidation"`
	LeaderLock      LeaderLock          `json:"leader_lock" mapstructure:"leader_lock"`
	ApmClient       *ApmClient          `json:"apm,omitempty" mapstructure:"apm"`
	Auth            *Auth               `json:"auth,omitempty" mapstructure:"auth"`
	Logging         *Logging            `json:"logging,omitempty" mapstructure:"logging"`
}

type Logging struct {
	Json  *bool   `json:"json,omitempty" mapstructure:"json"`
	File  *string `json:"file,omitempty" mapstructure:"file"`
	Level *string `json:"level,omitempty" mapstructure:"level"`
}

type ElasticsearchClient struct {
	Addresses []string       `json:"addresses" mapstructure:"addresses"`
	User      *BasicAuthUser `json:"user,omitempty" mapstructure:"user"`
}

type RedisClient struct {
	Address  string  `json:"address" mapstructure:"address"`
	Password *string `json:"password,omitempty" mapstructure:"password"`
	DB       int     `json:"db" mapstructure:"db"`
}

type ApmClient struct {
	Address     *string `json:"address,omitempty" mapstructure:"address"`
	SecretToken *string `json:"secret_token,omitempty" mapstructure:"secret_token"`
}

type StorageDriver string

const (
	GcsStorage    StorageDriver = "gcs"
	MemoryStorage StorageDriver = "memory"
)

type Storage struct {
	Driver StorageDriver `json:"driver" mapstructure:"driver"`
	// The bucket is named <bucket_prefix>-<environment>
	BucketPrefix          string  `json:"bucket_prefix" mapstructure:"bucket_prefix"`
	ProjectID             string  `json:"project_id" mapstructure:"project_id"`
	Location              string  `json:"location" mapstructure:"location"`
	Endpoint              *string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	WithoutAuthentication bool    `json:"without_authentication" mapstructure:"without_authentication"`
}

// BucketName is where all content lives
func (s *Storage) BucketName(environment string) string {
	if environment == "" {
		return s.BucketPrefix
	}
	return s.BucketPrefix + "-" + environment
}

type CoordinationDriver string

const (
	ElasticsearchCoordination CoordinationDriver = "elasticsearch"
	MemoryCoordination        CoordinationDriver = "memory"
)

type Coordination struct {
	Driver CoordinationDriver `json:"driver" mapstructure:"driver"`
	// Page size used when listing the children of a time index node
	ChildrenPageSize uint `json:"children_page_size" mapstructure:"children_page_size"`
}

type CountersDriver string

const (
	RedisCounters         CountersDriver = "redis"
	ElasticsearchCounters CountersDriver = "elasticsearch"
	MemoryCounters        CountersDriver = "memory"
)

type Counters struct {
	Driver CountersDriver `json:"driver" mapstructure:"driver"`
	// How many times to retry a compare-and-set on version conflicts
	// (Elasticsearch only)
	ConflictRetryTimes uint `json:"conflict_retry_times" mapstructure:"conflict_retry_times"`
}

type LocksDriver string

const (
	LocalLocks LocksDriver = "local"
	RedisLocks LocksDriver = "redis"
)

type Locks struct {
	Driver    LocksDriver   `json:"driver" mapstructure:"driver"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl"`
	RetryWait time.Duration `json:"retry_wait" mapstructure:"retry_wait"`
}

type Content struct {
	MaxPayloadBytes int64 `json:"max_payload_bytes" mapstructure:"max_payload_bytes"`
}

type Channels struct {
	ScrollSize uint          `json:"scroll_size" mapstructure:"scroll_size"`
	ScrollTtl  time.Duration `json:"scroll_ttl" mapstructure:"scroll_ttl"`
}

type Consolidation struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Schedule string        `json:"schedule" mapstructure:"schedule"`
	Lookback time.Duration `json:"lookback" mapstructure:"lookback"`
}

type Auth struct {
	BasicAuth []BasicAuthUser `json:"basic_auth" mapstructure:"basic_auth"`
}

type BasicAuthUser struct {
	Name     string `json:"name" mapstructure:"name"`
	Password string `json:"password" mapstructure:"password"`
}

type LeaderLock struct {
	CheckInterval      time.Duration `json:"check_interval" mapstructure:"check_interval"`
	ReportLagTolerance time.Duration `json:"report_lag_tolerance" mapstructure:"report_lag_tolerance"`
}
