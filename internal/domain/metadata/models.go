// metadata contains models that hold data about persisted configuration. Channel
// configuration is only ever kept in Elasticsearch, so seq number and primary
// term are not abstracted over.
package metadata

import "time"

type CreatedAt time.Time
type ModifiedAt time.Time

type SeqNum uint64
type PrimaryTerm uint64

// Version is used for optimistic concurrency control on updates
type Version struct {
	SeqNum      SeqNum
	PrimaryTerm PrimaryTerm
}

type Metadata struct {
	CreatedAt  CreatedAt
	ModifiedAt ModifiedAt
	Version    Version
}
