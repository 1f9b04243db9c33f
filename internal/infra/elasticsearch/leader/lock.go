package leader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/leader"
	"github.com/lloydmeta/datahub/internal/domain/tracing"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
)

var (
	IndexName = common.IndexName(".datahub_leader_locks")
)

type processId string

type state uint32

func (s state) String() string {
	return statesToString[s]
}

const (
	CHECKER state = iota
	PRETENDER
	USURPER
	LEADER
	STOPPED
)

var statesToString = map[state]string{
	CHECKER:   "CHECKER",
	PRETENDER: "PRETENDER",
	USURPER:   "USURPER",
	LEADER:    "LEADER",
	STOPPED:   "STOPPED",
}

// EsLock decides which datahub process runs the cluster-wide background jobs
// (index consolidation). Every process polls one document in the leader index;
// whoever last wrote it within the lag tolerance is the leader, and writes go
// through seq_no/primary_term checks so only one process can win a takeover.
//
// Leadership is eventually consistent: it relies on polling and on clocks
// across processes not drifting too far apart.
type EsLock struct {
	leaderLockDockId common.DocumentID

	processId processId
	client    *elasticsearch.Client
	getUTC    func() time.Time // for mocking
	state     state            // set and get via atomic ops since we'll access this from different threads

	loopInterval             time.Duration
	leaderReportLagTolerance time.Duration

	stashedDoc *esLeaderInfo // could be empty

	tracer    tracing.Tracer
	stateLock sync.Mutex // used only when we modify the state
}

// Ignore: this is for tests
func (e *EsLock) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func buildProcessId(id common.DocumentID) processId {
	uniqueId := strings.ReplaceAll(uuid.New().String(), "-", "")
	return processId(fmt.Sprintf("%s-%s", string(id), uniqueId))
}

// NewLeaderLock returns a new leader.Lock
//
// Generates a random process id for the returned instance.
func NewLeaderLock(leaderLockDocId common.DocumentID, client *elasticsearch.Client, loopInterval time.Duration, leaderReportLagTolerance time.Duration, tracer tracing.Tracer) leader.Lock {
	return &EsLock{
		leaderLockDockId: leaderLockDocId,
		processId:        buildProcessId(leaderLockDocId),
		client:           client,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
		state:                    CHECKER,
		loopInterval:             loopInterval,
		leaderReportLagTolerance: leaderReportLagTolerance,
		stashedDoc:               nil,
		stateLock:                sync.Mutex{},
		tracer:                   tracer,
	}
}

func (e *EsLock) IsLeader() bool {
	return e.getState() == LEADER
}

func (e *EsLock) getState() state {
	return state(atomic.LoadUint32((*uint32)(&e.state)))
}
func (e *EsLock) setState(newState state) {
	if oldState := state(atomic.SwapUint32((*uint32)(&e.state), uint32(newState))); oldState != newState {
		log.Info().
			Str("old_state", oldState.String()).
			Str("new_state", newState.String()).
			Str("process_id", string(e.processId)).
			Msg("Setting State")
	}
}

func (e *EsLock) getLeaderDoc() (*esLeaderInfo, error) {
	tx := e.tracer.BackgroundTx("leader-lock-getLeaderDoc")
	defer tx.End()
	ctx := tx.Context()
	getReq := esapi.GetRequest{

		Index:      string(IndexName),
		DocumentID: string(e.leaderLockDockId),
	}
	rawResp, err := getReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var info esLeaderInfo
		if err := json.NewDecoder(rawResp.Body).Decode(&info); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		return &info, nil
	case 404:
		return nil, NotFound{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsLock) submitNameForLeader() (*esLeaderInfo, error) {
	tx := e.tracer.BackgroundTx("leader-lock-submitNameForLeader")
	defer tx.End()
	ctx := tx.Context()

	now := e.getUTC()
	data := leaderData{
		LeaderId: e.processId,
		At:       now,
	}
	dataAsBytes, err := json.Marshal(data)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}

	createReq := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(e.leaderLockDockId),
		Body:       bytes.NewReader(dataAsBytes),
	}

	rawResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var response common.EsCreateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&response); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		info := esLeaderInfo{
			ID:          response.ID,
			SeqNum:      seqNum(response.SeqNum),
			PrimaryTerm: primaryTerm(response.PrimaryTerm),
			Source: leaderData{
				LeaderId: e.processId,
				At:       now,
			},
		}
		return &info, nil
	case statusCode == 409:
		return nil, Conflict{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}

}

// Tries to update the doc in ES so that the current lock is the leader
func (e *EsLock) jostleForLeader(primaryT primaryTerm, seqNo seqNum) (*esLeaderInfo, error) {
	tx := e.tracer.BackgroundTx("leader-lock-jostleForLeader")
	defer tx.End()
	ctx := tx.Context()

	now := e.getUTC()
	data := leaderData{
		LeaderId: e.processId,
		At:       now,
	}
	dataAsBytes, err := json.Marshal(data)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	// Purposely using the Index API (rather than the update API) so as to
	// not get bit by old stale data due to partial updates. We send optimistic
	// locking data to ensure we are _updating_
	updateReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(e.leaderLockDockId),
		Body:          bytes.NewReader(dataAsBytes),
		IfPrimaryTerm: esapi.IntPtr(int(primaryT)),
		IfSeqNo:       esapi.IntPtr(int(seqNo)),
	}

	rawResp, err := updateReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		// Updated, grab new metadata
		var resp common.EsUpdateResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		info := esLeaderInfo{
			ID:          resp.ID,
			SeqNum:      seqNum(resp.SeqNum),
			PrimaryTerm: primaryTerm(resp.PrimaryTerm),
			Source: leaderData{
				LeaderId: e.processId,
				At:       now,
			},
		}
		return &info, nil
	case statusCode == 404:
		return nil, NotFound{}
	case statusCode == 409:
		return nil, Conflict{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// loop drives the state machine until the lock is stopped. Each step runs
// with the state lock held; the wait between steps does not.
func (e *EsLock) loop() {
	for {
		e.stateLock.Lock()
		if e.getState() == STOPPED {
			e.stateLock.Unlock()
			return
		}
		stepStartTime := e.getUTC()
		skipWait := e.step()
		e.stateLock.Unlock()
		if !skipWait {
			waitTime := e.loopInterval - e.getUTC().Sub(stepStartTime)
			if waitTime > 0 {
				time.Sleep(waitTime)
			}
		}
	}
}

// step runs one transition and reports whether the next one should run
// straight away
func (e *EsLock) step() bool {
	switch e.getState() {
	case LEADER:
		return e.stepLeader()
	case PRETENDER:
		return e.stepPretender()
	case CHECKER:
		return e.stepChecker()
	case USURPER:
		return e.stepUsurper()
	default:
		e.stashedDoc = nil
		e.setState(CHECKER)
		return false
	}
}

// A leader renews its claim using the version it last wrote
func (e *EsLock) stepLeader() bool {
	if e.stashedDoc == nil {
		e.setState(CHECKER)
		return false
	}
	r, err := e.jostleForLeader(e.stashedDoc.PrimaryTerm, e.stashedDoc.SeqNum)
	if err != nil {
		return e.onJostleErr(err)
	}
	e.stashedDoc = r
	e.setState(LEADER)
	return false
}

// A pretender found no leader doc and tries to create one
func (e *EsLock) stepPretender() bool {
	r, err := e.submitNameForLeader()
	e.stashedDoc = r
	if err != nil {
		if _, conflict := err.(Conflict); !conflict {
			log.Error().Err(err).Msg("Unexpected error submitting for leader, ignoring for now")
		}
		e.setState(CHECKER)
		return false
	}
	e.setState(LEADER)
	return false
}

// A checker looks at the leader doc to see whether the leader is still alive
func (e *EsLock) stepChecker() bool {
	r, err := e.getLeaderDoc()
	if err != nil {
		e.stashedDoc = nil
		if _, notFound := err.(NotFound); notFound {
			e.setState(PRETENDER)
			return true
		}
		log.Error().Err(err).Msg("Unexpected error checking leader doc, ignoring for now")
		e.setState(CHECKER)
		return false
	}
	now := e.getUTC()
	lag := now.Sub(r.Source.At)
	switch {
	case lag > e.leaderReportLagTolerance:
		log.Debug().
			Dur("lag", lag).
			Dur("tolerance", e.leaderReportLagTolerance).
			Str("leader_id", string(r.Source.LeaderId)).
			Msg("Leader has not reported in time")
		e.stashedDoc = r
		e.setState(USURPER)
		return true
	case r.Source.LeaderId == e.processId:
		e.stashedDoc = r
		e.setState(LEADER)
		return true
	default:
		e.stashedDoc = nil
		e.setState(CHECKER)
		return false
	}
}

// A usurper tries to take over from a leader that went quiet, using the
// version of the stale doc so only one usurper can win
func (e *EsLock) stepUsurper() bool {
	if e.stashedDoc == nil {
		log.Error().Msg("Could not find stashed leader doc when usurping leader.")
		e.setState(CHECKER)
		return false
	}
	r, err := e.jostleForLeader(e.stashedDoc.PrimaryTerm, e.stashedDoc.SeqNum)
	if err != nil {
		return e.onJostleErr(err)
	}
	e.stashedDoc = r
	e.setState(LEADER)
	return true
}

func (e *EsLock) onJostleErr(err error) bool {
	e.stashedDoc = nil
	switch err.(type) {
	case NotFound:
		e.setState(PRETENDER)
		return true
	case Conflict:
		e.setState(CHECKER)
		return false
	default:
		log.Error().Err(err).Msg("Unexpected error jostling for leader, ignoring for now")
		e.setState(CHECKER)
		return false
	}
}

func (e *EsLock) Start() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.setState(CHECKER)
	go e.loop()
}
func (e *EsLock) Stop() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.setState(STOPPED)
}

type NotFound struct{}

func (n NotFound) Error() string {
	return "Not the leader"
}

type Conflict struct{}

func (n Conflict) Error() string {
	return "Leader doc exists"
}

type leaderData struct {
	LeaderId processId `json:"leader_id"`
	At       time.Time `json:"at"`
}

type primaryTerm uint64
type seqNum uint64

type esLeaderInfo struct {
	ID          string      `json:"_id"`
	SeqNum      seqNum      `json:"_seq_no"`
	PrimaryTerm primaryTerm `json:"_primary_term"`
	Source      leaderData  `json:"_source"`
}
