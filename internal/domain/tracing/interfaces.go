// tracing lets background work (consolidation passes, leader lock polls) show
// up as transactions without the domain depending on an APM agent
package tracing

import "context"

// Transaction is an in-flight unit of background work
type Transaction interface {
	// Context carries the transaction so that outgoing calls made with it
	// (Elasticsearch, Redis, GCS) are recorded as spans
	Context() context.Context
	End()
}

type Tracer interface {
	BackgroundTx(name string) Transaction
}
