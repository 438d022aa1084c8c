// Package generation runs one AI generation request end to end: quota check,
// slot reservation, the external call and the ledger write, in that order.
package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/events"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateRejected        State = "rejected"
	StateCalling         State = "calling"
	StateRecordedSuccess State = "recorded_success"
	StateRecordedFailure State = "recorded_failure"
)

const DefaultTimeout = 30 * time.Second

// Caller identifies who is generating. Role is the role carried by the
// session and only matters when the ledger cannot be read.
type Caller struct {
	UserID string
	Role   models.Role
}

type Result struct {
	State    State                     `json:"state"`
	Response models.GenerationResponse `json:"response"`
	Err      error                     `json:"-"`
	Latency  time.Duration             `json:"-"`
}

// Slot is a reserved generation that must be committed or failed.
type Slot interface {
	Commit(ctx context.Context, req models.GenerationRequest, outputLen int) error
	Fail(ctx context.Context, req models.GenerationRequest, msg string) error
}

type Ledger interface {
	CanGenerate(ctx context.Context, userID string, roleHint models.Role) (bool, error)
	Reserve(ctx context.Context, userID string) (Slot, error)
}

type Publisher interface {
	PublishGeneration(ctx context.Context, ev events.GenerationRecorded) error
}

// ledgerAdapter narrows *ledger.Service to Ledger.
type ledgerAdapter struct {
	svc *ledger.Service
}

func (a ledgerAdapter) CanGenerate(ctx context.Context, userID string, roleHint models.Role) (bool, error) {
	return a.svc.CanGenerate(ctx, userID, roleHint)
}

func (a ledgerAdapter) Reserve(ctx context.Context, userID string) (Slot, error) {
	r, err := a.svc.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type Orchestrator struct {
	ledger    Ledger
	generator Generator
	publisher Publisher
	timeout   time.Duration
	logger    *logger.Logger
	now       func() time.Time

	// OnTransition, when set, observes every state change.
	OnTransition func(userID string, from, to State)
}

func NewOrchestrator(svc *ledger.Service, gen Generator, pub Publisher, timeout time.Duration, l *logger.Logger) *Orchestrator {
	return newOrchestrator(ledgerAdapter{svc: svc}, gen, pub, timeout, l)
}

func newOrchestrator(lg Ledger, gen Generator, pub Publisher, timeout time.Duration, l *logger.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if gen == nil {
		gen = MockGenerator{}
	}
	return &Orchestrator{
		ledger:    lg,
		generator: gen,
		publisher: pub,
		timeout:   timeout,
		logger:    l.With("component", "generation"),
		now:       time.Now,
	}
}

// Validate checks the request fields and fills in defaults.
func Validate(req *models.GenerationRequest) error {
	if req.Source == "" {
		req.Source = models.SourceWebsite
	}
	if req.Source != models.SourceWebsite && req.Source != models.SourceExtension {
		return apperr.Validation("Invalid source")
	}
	if req.Language == "" {
		req.Language = "English"
	}
	if req.Tone == "" {
		req.Tone = "Professional"
	}

	switch req.GenerationType {
	case models.GenerationReply:
		if strings.TrimSpace(req.OriginalMessage) == "" {
			return apperr.Validation("Please enter the original message")
		}
	case models.GenerationEmail:
		if strings.TrimSpace(req.Prompt) == "" {
			return apperr.Validation("Please enter a prompt for the email")
		}
	default:
		return apperr.Validation("Generation type must be reply or email")
	}
	return nil
}

// Run takes a request from Idle to a terminal state. A failed call is
// recorded once and never retried.
func (o *Orchestrator) Run(ctx context.Context, caller Caller, req models.GenerationRequest) Result {
	state := StateIdle
	move := func(to State) {
		if o.OnTransition != nil {
			o.OnTransition(caller.UserID, state, to)
		}
		state = to
	}
	reject := func(err error) Result {
		move(StateRejected)
		return Result{State: state, Response: models.GenerationResponse{Error: apperr.Message(err)}, Err: err}
	}

	move(StateValidating)
	if err := Validate(&req); err != nil {
		return reject(err)
	}
	if req.Encrypted {
		if e, ok := o.generator.(interface{ CanEncrypt() bool }); ok && !e.CanEncrypt() {
			return reject(apperr.Validation("Encryption is not available. Disable encryption and try again."))
		}
	}

	ok, err := o.ledger.CanGenerate(ctx, caller.UserID, caller.Role)
	if err != nil {
		return reject(err)
	}
	if !ok {
		return reject(apperr.Quota("Generation limit reached. Upgrade your plan to keep generating."))
	}

	slot, err := o.ledger.Reserve(ctx, caller.UserID)
	if err != nil {
		return reject(err)
	}

	move(StateCalling)
	started := o.now()
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.generator.Generate(callCtx, req)
	cancel()
	latency := o.now().Sub(started)

	if err == nil && !resp.Success {
		err = errors.New(resp.Error)
		if resp.Error == "" {
			err = errors.New("AI generation failed")
		}
	}

	if err != nil {
		msg := failureMessage(err)
		if ferr := slot.Fail(context.WithoutCancel(ctx), req, msg); ferr != nil {
			o.logger.Error("Failed to record failed generation", "user_id", caller.UserID, "error", ferr)
		}
		move(StateRecordedFailure)
		o.publish(ctx, caller, req, false, msg, latency, 0)
		o.logger.Warn("Generation failed", "user_id", caller.UserID, "type", req.GenerationType, "error", err)

		return Result{
			State:    state,
			Response: models.GenerationResponse{Success: false, Error: msg},
			Err:      apperr.Network(msg, err),
			Latency:  latency,
		}
	}

	if cerr := slot.Commit(context.WithoutCancel(ctx), req, len(resp.Content)); cerr != nil {
		o.logger.Error("Failed to record generation", "user_id", caller.UserID, "error", cerr)
	}
	move(StateRecordedSuccess)
	o.publish(ctx, caller, req, true, "", latency, len(resp.Content))
	o.logger.Info("Generation completed", "user_id", caller.UserID, "type", req.GenerationType, "source", req.Source, "latency_ms", latency.Milliseconds())

	resp.Success = true
	return Result{State: state, Response: resp, Latency: latency}
}

func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "AI generation timed out. Please try again."
	}
	return err.Error()
}

func (o *Orchestrator) publish(ctx context.Context, caller Caller, req models.GenerationRequest, success bool, msg string, latency time.Duration, outputLen int) {
	if o.publisher == nil {
		return
	}
	ev := events.GenerationRecorded{
		UserID:         caller.UserID,
		Source:         req.Source,
		GenerationType: req.GenerationType,
		Success:        success,
		Error:          msg,
		LatencyMS:      latency.Milliseconds(),
		OutputLength:   outputLen,
		RecordedAt:     o.now().UTC(),
	}
	if err := o.publisher.PublishGeneration(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Debug("Generation event not published", "user_id", caller.UserID, "error", err)
	}
}
