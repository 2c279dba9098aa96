package permission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
)

// State is the lifecycle state of a request.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateResolved  State = "resolved"
	StateCancelled State = "cancelled"
)

// Request is a permission decision waiting on the operator.
type Request struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ToolCallID string    `json:"tool_call_id"`
	Title      string    `json:"title,omitempty"`
	Options    []Option  `json:"options"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Input describes a new permission request.
type Input struct {
	SessionID  string
	ToolCallID string
	Title      string
	Options    []Option
}

// Outcome is how a request ended.
type Outcome struct {
	Cancelled bool   `json:"cancelled"`
	OptionID  string `json:"option_id,omitempty"`
}

// Listener observes state transitions. Calls are made outside the
// arbitrator's lock.
type Listener interface {
	PermissionActivated(req Request)
	PermissionFinished(req Request, outcome Outcome)
}

// Pending is the caller's handle on a submitted request.
type Pending struct {
	// ID is empty when the request was auto-approved.
	ID   string
	done chan Outcome
}

// Done yields the outcome exactly once.
func (p *Pending) Done() <-chan Outcome {
	return p.done
}

// Wait blocks until the request is resolved or cancelled, or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-p.done:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type entry struct {
	req  Request
	done chan Outcome
}

// Arbitrator serializes permission requests into a FIFO queue with a single
// active head.
type Arbitrator struct {
	logger      *logger.Logger
	listener    Listener
	autoApprove atomic.Bool

	mu      sync.Mutex
	queue   []*entry
	pending map[string]*entry
}

// NewArbitrator creates an arbitrator. listener may be nil.
func NewArbitrator(autoApprove bool, listener Listener, log *logger.Logger) *Arbitrator {
	a := &Arbitrator{
		logger:   log.WithFields(zap.String("component", "permissions")),
		listener: listener,
		pending:  make(map[string]*entry),
	}
	a.autoApprove.Store(autoApprove)
	return a
}

// SetAutoApprove toggles the auto-approve policy for future requests.
func (a *Arbitrator) SetAutoApprove(v bool) {
	a.autoApprove.Store(v)
}

// AutoApprove reports the current policy.
func (a *Arbitrator) AutoApprove() bool {
	return a.autoApprove.Load()
}

// Request submits a permission request. With auto-approve enabled the
// returned handle is already resolved and nothing is queued.
func (a *Arbitrator) Request(in Input) *Pending {
	if a.autoApprove.Load() {
		done := make(chan Outcome, 1)
		choice, ok := AutoApproveChoice(in.Options)
		if ok {
			a.logger.Info("auto-approving permission request",
				zap.String("tool_call_id", in.ToolCallID),
				zap.String("option_id", choice.ID))
			done <- Outcome{OptionID: choice.ID}
		} else {
			a.logger.Warn("permission request has no options, cancelling",
				zap.String("tool_call_id", in.ToolCallID))
			done <- Outcome{Cancelled: true}
		}
		return &Pending{done: done}
	}

	e := &entry{
		req: Request{
			ID:         uuid.NewString(),
			SessionID:  in.SessionID,
			ToolCallID: in.ToolCallID,
			Title:      in.Title,
			Options:    NormalizeOptions(in.Options),
			State:      StateQueued,
			CreatedAt:  time.Now().UTC(),
		},
		done: make(chan Outcome, 1),
	}

	a.mu.Lock()
	a.queue = append(a.queue, e)
	a.pending[e.req.ID] = e
	var activated *Request
	if len(a.queue) == 1 {
		e.req.State = StateActive
		r := e.req
		activated = &r
	}
	queued := len(a.queue)
	a.mu.Unlock()

	a.logger.Debug("permission request queued",
		zap.String("request_id", e.req.ID),
		zap.String("tool_call_id", in.ToolCallID),
		zap.Int("queue_length", queued))
	if activated != nil {
		a.notifyActivated(*activated)
	}
	return &Pending{ID: e.req.ID, done: e.done}
}

// Resolve answers a request with one of its options. Unknown request ids are
// ignored, since the operator and the agent can race to finish a request.
// An option id the request does not offer is rejected.
func (a *Arbitrator) Resolve(requestID, optionID string) error {
	a.mu.Lock()
	e, ok := a.pending[requestID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring resolve for unknown permission request", zap.String("request_id", requestID))
		return nil
	}
	if !hasOption(e.req.Options, optionID) {
		a.mu.Unlock()
		return agenterr.NotFound("permission option", optionID)
	}
	finished, next := a.finishLocked(e, StateResolved)
	a.mu.Unlock()

	a.complete(finished, e.done, Outcome{OptionID: optionID}, next)
	return nil
}

// Cancel ends one request with a cancelled outcome. Unknown ids are ignored.
func (a *Arbitrator) Cancel(requestID string) {
	a.mu.Lock()
	e, ok := a.pending[requestID]
	if !ok {
		a.mu.Unlock()
		return
	}
	finished, next := a.finishLocked(e, StateCancelled)
	a.mu.Unlock()

	a.complete(finished, e.done, Outcome{Cancelled: true}, next)
}

// CancelAll cancels every queued and active request. Calling it with
// nothing pending is a no-op.
func (a *Arbitrator) CancelAll() int {
	a.mu.Lock()
	entries := a.queue
	a.queue = nil
	a.pending = make(map[string]*entry)
	a.mu.Unlock()

	for _, e := range entries {
		e.req.State = StateCancelled
		e.done <- Outcome{Cancelled: true}
		if a.listener != nil {
			a.listener.PermissionFinished(e.req, Outcome{Cancelled: true})
		}
	}
	if len(entries) > 0 {
		a.logger.Info("cancelled pending permission requests", zap.Int("count", len(entries)))
	}
	return len(entries)
}

// Active returns the request currently shown to the operator.
func (a *Arbitrator) Active() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return Request{}, false
	}
	return a.queue[0].req, true
}

// Requests returns all unfinished requests, active first.
func (a *Arbitrator) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.queue))
	for i, e := range a.queue {
		out[i] = e.req
	}
	return out
}

// Len returns the number of unfinished requests.
func (a *Arbitrator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// finishLocked removes e and promotes the next request when e was active.
func (a *Arbitrator) finishLocked(e *entry, state State) (Request, *Request) {
	delete(a.pending, e.req.ID)
	wasHead := false
	for i, q := range a.queue {
		if q == e {
			wasHead = i == 0
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			break
		}
	}
	e.req.State = state

	var next *Request
	if wasHead && len(a.queue) > 0 {
		a.queue[0].req.State = StateActive
		r := a.queue[0].req
		next = &r
	}
	return e.req, next
}

func (a *Arbitrator) complete(req Request, done chan Outcome, outcome Outcome, next *Request) {
	done <- outcome
	a.logger.Debug("permission request finished",
		zap.String("request_id", req.ID),
		zap.String("state", string(req.State)),
		zap.String("option_id", outcome.OptionID))
	if a.listener != nil {
		a.listener.PermissionFinished(req, outcome)
	}
	if next != nil {
		a.notifyActivated(*next)
	}
}

func (a *Arbitrator) notifyActivated(req Request) {
	if a.listener != nil {
		a.listener.PermissionActivated(req)
	}
}

func hasOption(options []Option, id string) bool {
	for _, o := range options {
		if o.ID == id {
			return true
		}
	}
	return false
}
