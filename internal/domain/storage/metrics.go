package storage

import "time"

// KeysSource says where GetKeys found its answer
type KeysSource string

const (
	ConsolidatedSource KeysSource = "consolidated"
	LiveSource         KeysSource = "live"
	NoSource           KeysSource = "none"
)

// Metrics receives observations from the Engine
type Metrics interface {
	ObserveWrite(channel string, took time.Duration, err error)
	ObserveRead(channel string, took time.Duration, found bool)
	ObserveKeysLookup(channel string, source KeysSource)
	ObserveConsolidation(channel string, keys int, err error)
}

// NoopMetrics discards everything
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(channel string, took time.Duration, err error)  {}
func (NoopMetrics) ObserveRead(channel string, took time.Duration, found bool)  {}
func (NoopMetrics) ObserveKeysLookup(channel string, source KeysSource)         {}
func (NoopMetrics) ObserveConsolidation(channel string, keys int, err error)    {}
