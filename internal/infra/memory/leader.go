package memory

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SoloLeader is a leader.Lock for single node deployments: it is the leader
// for as long as it is started
type SoloLeader struct {
	started int32
}

func (s *SoloLeader) IsLeader() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func (s *SoloLeader) Start() {
	if atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		log.Info().Msg("Running without a cluster, this process is the leader")
	}
}

func (s *SoloLeader) Stop() {
	atomic.StoreInt32(&s.started, 0)
}
