// Package verification publishes deployed contracts' source code to a block
// explorer and tracks each submission to a terminal outcome.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/explorer"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/plan"
)

// Outcome is the terminal verification state of one contract.
type Outcome string

const (
	OutcomeSkipped         Outcome = "skipped"
	OutcomeAlreadyVerified Outcome = "already-verified"
	OutcomeNewlyVerified   Outcome = "newly-verified"
	OutcomeUnableToVerify  Outcome = "unable-to-verify"
)

// Reasons attached to records that did not come from the explorer.
const (
	ReasonDisabled  = "verification disabled"
	ReasonExempt    = "exempt from verification"
	ReasonTimedOut  = "timed out"
	ReasonCancelled = "cancelled"
)

// Record is the outcome for one contract.
type Record struct {
	ID      plan.Identifier `json:"id"`
	Address common.Address  `json:"address"`
	Outcome Outcome         `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	GUID    string          `json:"guid,omitempty"`
}

// Explorer is the block explorer API used by the poller.
type Explorer interface {
	IsVerified(ctx context.Context, address common.Address) (bool, error)
	CreationInput(ctx context.Context, address common.Address) (string, error)
	Submit(ctx context.Context, s explorer.Submission) (guid string, already bool, err error)
	CheckStatus(ctx context.Context, guid string) (string, error)
}

// Target is a deployed contract to verify.
type Target struct {
	ID      plan.Identifier
	Address common.Address
	// Source is the flattened source of the contract's unit.
	Source string
	// LinkedBytecode is the creation code as it was deployed.
	LinkedBytecode string
}

// Options configures the poller.
type Options struct {
	Enabled bool
	// Exempt lists identifiers or base names that are never submitted.
	Exempt []string
	// NoConstructorArgs lists base names submitted without constructor
	// arguments.
	NoConstructorArgs []string
	CompilerVersion   string
	OptimizerRuns     int
	Libraries         []explorer.Library
	PollInterval      time.Duration
	MaxPolls          int
}

// Poller drives the per-contract verification state machine.
type Poller struct {
	explorer Explorer
	opts     Options
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a poller. A non-positive PollInterval or MaxPolls falls back
// to 5s and 60 polls.
func New(ex Explorer, opts Options, logger *slog.Logger) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 60
	}
	return &Poller{explorer: ex, opts: opts, logger: logger, sleep: sleep}
}

// Verify runs the state machine for one target. Failures become
// unable-to-verify records rather than errors.
func (p *Poller) Verify(ctx context.Context, t Target) Record {
	rec := p.verify(ctx, t)
	metrics.VerificationOutcome(string(rec.Outcome))
	p.logger.Info("verification finished",
		"contract", t.ID.String(),
		"address", t.Address.Hex(),
		"outcome", rec.Outcome,
		"reason", rec.Reason,
	)
	return rec
}

func (p *Poller) verify(ctx context.Context, t Target) Record {
	rec := Record{ID: t.ID, Address: t.Address}
	unable := func(reason string) Record {
		rec.Outcome, rec.Reason = OutcomeUnableToVerify, reason
		return rec
	}
	failed := func(err error) Record {
		if ctx.Err() != nil {
			return unable(ReasonCancelled)
		}
		return unable(err.Error())
	}

	if !p.opts.Enabled {
		rec.Outcome, rec.Reason = OutcomeSkipped, ReasonDisabled
		return rec
	}
	if slices.Contains(p.opts.Exempt, t.ID.String()) || slices.Contains(p.opts.Exempt, t.ID.Name) {
		rec.Outcome, rec.Reason = OutcomeSkipped, ReasonExempt
		return rec
	}
	if ctx.Err() != nil {
		return unable(ReasonCancelled)
	}

	verified, err := p.explorer.IsVerified(ctx, t.Address)
	if err != nil {
		return failed(fmt.Errorf("checking status: %w", err))
	}
	if verified {
		rec.Outcome = OutcomeAlreadyVerified
		return rec
	}
	p.logger.Info("not yet verified, submitting", "contract", t.ID.String())

	var args string
	if !slices.Contains(p.opts.NoConstructorArgs, t.ID.Name) {
		input, err := p.explorer.CreationInput(ctx, t.Address)
		if err != nil {
			return failed(fmt.Errorf("fetching creation transaction: %w", err))
		}
		if args, err = evm.ConstructorArgs(input, t.LinkedBytecode); err != nil {
			return failed(err)
		}
		p.logger.Debug("constructor arguments", "contract", t.ID.String(), "args", args)
	}

	guid, already, err := p.explorer.Submit(ctx, explorer.Submission{
		Address:          t.Address,
		SourceCode:       t.Source,
		ContractName:     t.ID.Name,
		CompilerVersion:  p.opts.CompilerVersion,
		ConstructorArgs:  args,
		OptimizationUsed: true,
		Runs:             p.opts.OptimizerRuns,
		Libraries:        p.opts.Libraries,
	})
	if err != nil {
		return failed(fmt.Errorf("submitting: %w", err))
	}
	if already {
		// lost a race with an earlier submission
		rec.Outcome, rec.Reason = OutcomeNewlyVerified, explorer.ResultAlreadyVerified
		return rec
	}
	rec.GUID = guid
	p.logger.Info("submitted", "contract", t.ID.String(), "guid", guid)

	for poll := 1; poll <= p.opts.MaxPolls; poll++ {
		status, err := p.explorer.CheckStatus(ctx, guid)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return unable(ReasonCancelled)
			}
			p.logger.Warn("status check failed", "contract", t.ID.String(), "poll", poll, "error", err)
		case status == explorer.StatusPass:
			rec.Outcome = OutcomeNewlyVerified
			return rec
		case status == explorer.StatusFail:
			return unable(status)
		default:
			p.logger.Debug("verification pending", "contract", t.ID.String(), "poll", poll, "status", status)
		}

		if poll == p.opts.MaxPolls {
			break
		}
		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			return unable(ReasonCancelled)
		}
	}
	return unable(ReasonTimedOut)
}

// Run verifies targets one at a time. Targets not reached before ctx is
// cancelled are recorded as cancelled. onRecord, if set, sees each record as
// it is produced.
func (p *Poller) Run(ctx context.Context, targets []Target, onRecord func(Record)) []Record {
	records := make([]Record, 0, len(targets))
	for _, t := range targets {
		rec := p.Verify(ctx, t)
		records = append(records, rec)
		if onRecord != nil {
			onRecord(rec)
		}
	}
	return records
}

// Job is a verification run in the background.
type Job struct {
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	records []Record
}

// Start runs targets in a background goroutine. Cancelling the job stops
// verification without affecting the caller's context. onRecord, if set, is
// called from the job's goroutine.
func (p *Poller) Start(ctx context.Context, targets []Target, onRecord func(Record)) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(j.done)
		defer cancel()
		p.Run(ctx, targets, func(rec Record) {
			j.add(rec)
			if onRecord != nil {
				onRecord(rec)
			}
		})
	}()
	return j
}

func (j *Job) add(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
}

// Cancel stops the job. Remaining targets are recorded as cancelled.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the job has produced a record for every target.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is done and returns all records.
func (j *Job) Wait() []Record {
	<-j.done
	return j.Records()
}

// Records returns the records produced so far.
func (j *Job) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.records)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Summary counts records by outcome.
func Summary(records []Record) map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range records {
		counts[r.Outcome]++
	}
	return counts
}

// ErrUnverified is returned by RequireVerified when some contract could not
// be verified.
var ErrUnverified = errors.New("contracts could not be verified")

// RequireVerified fails when any record is unable-to-verify.
func RequireVerified(records []Record) error {
	var failed []string
	for _, r := range records {
		if r.Outcome == OutcomeUnableToVerify {
			failed = append(failed, r.ID.String())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrUnverified, failed)
	}
	return nil
}
