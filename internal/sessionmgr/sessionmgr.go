// Package sessionmgr implements the session control API:
// start_analysis, get_analysis_status, approve/reject/cancel. It is the
// async front door onto internal/pipeline and internal/coordinator for a
// human-approval deployment -- cmd/coordinator's own main loop drives
// sessions synchronously inline for an auto-approving deployment instead,
// so this package is what a UI or chat bot calls.
//
// Sessions live in a mutex-guarded map keyed by session id; each entry
// carries its own lock so status reads never observe a mid-stage write.
package sessionmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/coordinator"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/pipeline"
	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// entry pairs a Session with the cancellation func for its in-flight
// pipeline run and a mutex serializing reads against the goroutine that
// mutates it. The mutex is held for the whole duration of a stage run
// (Start/Reanalyze block until the pipeline suspends or completes), so
// GetStatus always returns a consistent snapshot, never a mid-stage
// read; callers polling for live progress see stage and reasoning-log
// updates only at the next suspension, not continuously.
type entry struct {
	mu      sync.RWMutex
	session *types.Session

	// cancelMu guards cancel independently of mu: mu is held by the
	// goroutine running the pipeline for the whole duration of a stage
	// run, so Cancel must never need mu just to invoke the cancel func,
	// or a cancellation request would block behind the very run it is
	// trying to stop.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func (e *entry) setCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancel = cancel
}

func (e *entry) invokeCancel() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Manager owns the table of in-flight and completed sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	coord    *coordinator.Coordinator
	stock    *pipeline.Pipeline
	crypto   *pipeline.Pipeline
	isCrypto func(assetID string) bool
	log      zerolog.Logger
}

// New constructs a Manager. isCrypto classifies an asset id into the
// stock or crypto domain pipeline.
func New(coord *coordinator.Coordinator, stock, crypto *pipeline.Pipeline, isCrypto func(string) bool, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		coord:    coord,
		stock:    stock,
		crypto:   crypto,
		isCrypto: isCrypto,
		log:      log,
	}
}

func (m *Manager) pipelineFor(assetID string) *pipeline.Pipeline {
	if m.isCrypto != nil && m.isCrypto(assetID) {
		return m.crypto
	}
	return m.stock
}

func (m *Manager) entryFor(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	return e, ok
}

// StartAnalysis implements start_analysis(asset_id, query?) -> session_id.
// The pipeline run begins in the background; the returned id is queryable
// immediately via GetStatus, which reports stage=data-collection until the
// run suspends at approval or fails.
func (m *Manager) StartAnalysis(assetID string) string {
	now := time.Now()
	s := &types.Session{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Stage:     types.StageDataCollection,
		CreatedAt: now,
		UpdatedAt: now,
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e := &entry{session: s}
	e.setCancel(cancel)

	m.mu.Lock()
	m.sessions[s.ID] = e
	metrics.UpdateActiveSessions(len(m.sessions))
	m.mu.Unlock()

	go m.runStart(runCtx, e)
	return s.ID
}

func (m *Manager) runStart(ctx context.Context, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := m.pipelineFor(e.session.AssetID)
	err := m.coord.StartPipelineSession(ctx, p, e.session)
	e.finishRunLocked(ctx, err)
}

// GetStatus implements get_analysis_status(session_id). The bool is false
// for an unknown session id.
func (m *Manager) GetStatus(id string) (types.Session, bool) {
	e, ok := m.entryFor(id)
	if !ok {
		return types.Session{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.session, true
}

// Approve implements approve(session_id, quantity?): it runs the proposal
// through Coordinator.OnTradeApproved and marks the session complete.
// Returns an error if the session is unknown or not currently suspended
// at the approval interrupt.
func (m *Manager) Approve(ctx context.Context, id string, quantity *float64) (portfolio.AllocationPlan, error) {
	e, ok := m.entryFor(id)
	if !ok {
		return portfolio.AllocationPlan{}, fmt.Errorf("sessionmgr: unknown session %s", id)
	}

	e.mu.Lock()
	if e.session.Stage != types.StageApproval || !e.session.AwaitingApproval || e.session.Proposal == nil {
		stage := e.session.Stage
		e.mu.Unlock()
		return portfolio.AllocationPlan{}, fmt.Errorf("sessionmgr: session %s is not awaiting approval (stage=%s)", id, stage)
	}
	proposal := *e.session.Proposal
	e.session.ApprovalStatus = types.ApprovalApproved
	e.session.AwaitingApproval = false
	e.session.Stage = types.StageExecution
	e.session.Log("approved by user")
	e.mu.Unlock()

	plan, err := m.coord.OnTradeApproved(ctx, proposal, quantity)

	e.mu.Lock()
	e.session.Stage = types.StageComplete
	e.session.UpdatedAt = time.Now()
	if err != nil {
		e.session.LogError(err.Error())
	} else {
		e.session.Log(fmt.Sprintf("execution: quantity=%.4f %s", plan.Quantity, plan.Rationale))
	}
	e.mu.Unlock()

	return plan, err
}

// Reject implements reject(session_id, feedback?): the pipeline's
// reject edge, which resets the session back to
// data-collection and increments its reanalysis counter. The re-analysis
// run begins in the background, same as StartAnalysis.
func (m *Manager) Reject(id, feedback string) error {
	e, ok := m.entryFor(id)
	if !ok {
		return fmt.Errorf("sessionmgr: unknown session %s", id)
	}

	e.mu.Lock()
	if e.session.Stage != types.StageApproval || !e.session.AwaitingApproval {
		stage := e.session.Stage
		e.mu.Unlock()
		return fmt.Errorf("sessionmgr: session %s is not awaiting approval (stage=%s)", id, stage)
	}
	e.session.ApprovalStatus = types.ApprovalRejected
	e.session.UserFeedback = feedback
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	e.setCancel(cancel)

	go m.runReanalyze(runCtx, e)
	return nil
}

func (m *Manager) runReanalyze(ctx context.Context, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := m.pipelineFor(e.session.AssetID)
	err := m.coord.ReanalyzeSession(ctx, p, e.session)
	e.finishRunLocked(ctx, err)
}

// finishRunLocked records the outcome of a pipeline run. Caller must
// hold e.mu (already held for the run's whole duration, see entry's doc
// comment). A context cancelled out from under the run (via Cancel,
// which never waits on e.mu) takes priority over whatever error the
// pipeline itself surfaced, since that error is almost always just the
// cancellation propagating through an in-flight upstream call.
func (e *entry) finishRunLocked(ctx context.Context, runErr error) {
	if ctx.Err() != nil {
		e.session.Cancelled = true
		e.session.Stage = types.StageComplete
		e.session.Log("cancelled by user")
	} else if runErr != nil {
		e.session.Stage = types.StageComplete
		e.session.Error = runErr.Error()
		e.session.LogError(runErr.Error())
	}
	e.session.UpdatedAt = time.Now()
}

// Cancel implements cancel(session_id). A session may
// only be cancelled before synthesis; once a proposal has been
// published the approval interrupt (or a terminal stage) is the only
// remaining edge. Cancellation itself never waits on e.mu -- that mutex
// is held by the run goroutine for the run's entire duration, so
// blocking on it here would mean the cancel request could only ever be
// observed after the run it was meant to interrupt had already finished
// on its own. invokeCancel instead signals the run's context directly;
// the run goroutine notices ctx.Err() and marks the session itself
// (finishRunLocked) once its current blocking call unblocks.
func (m *Manager) Cancel(id string) error {
	e, ok := m.entryFor(id)
	if !ok {
		return fmt.Errorf("sessionmgr: unknown session %s", id)
	}

	if e.mu.TryLock() {
		stage := e.session.Stage
		e.mu.Unlock()
		if stage == types.StageApproval || stage == types.StageExecution || stage == types.StageComplete {
			return fmt.Errorf("sessionmgr: session %s can no longer be cancelled (stage=%s)", id, stage)
		}
	}
	// If TryLock failed, a run is in flight -- by construction that run
	// is somewhere between data-collection and the approval suspension
	// (a session stops owning an active goroutine once it reaches
	// StageApproval/StageComplete), so cancellation is always still valid.

	e.invokeCancel()
	return nil
}
