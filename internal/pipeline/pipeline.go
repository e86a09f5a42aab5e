// Package pipeline runs build, deploy, wire, save and verify as one run.
// All state of a run lives on the Pipeline value, so independent pipelines
// can run side by side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/compiler"
	"github.com/pendergraft/contradeploy/internal/deployer"
	"github.com/pendergraft/contradeploy/internal/explorer"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/registry"
	"github.com/pendergraft/contradeploy/internal/sources"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/suite"
	"github.com/pendergraft/contradeploy/internal/verification"
	"github.com/pendergraft/contradeploy/internal/wiring"
)

// Stage is the step a pipeline is in.
type Stage string

const (
	StageIdle   Stage = "idle"
	StageBuild  Stage = "build"
	StageDeploy Stage = "deploy"
	StageWire   Stage = "wire"
	StageSave   Stage = "save"
	StageVerify Stage = "verify"
	StageDone   Stage = "done"
	StageFailed Stage = "failed"
)

// ErrNotBuilt is returned by stages that need compiled artifacts.
var ErrNotBuilt = errors.New("pipeline has not been built")

// Compiler turns flattened units into artifacts.
type Compiler interface {
	Compile(ctx context.Context, units map[string]string) (*compiler.Result, error)
}

// Ledger deploys contracts and sends wiring calls.
type Ledger interface {
	deployer.ContractCreator
	wiring.Invoker
}

// History persists what a run did. Write failures are logged and never
// abort a run that may already have sent transactions.
type History interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
	RecordDeployment(ctx context.Context, d *storage.Deployment) error
	RecordWiringCall(ctx context.Context, w *storage.WiringCall) error
	RecordVerification(ctx context.Context, v *storage.Verification) error
}

// Options configures a pipeline.
type Options struct {
	LibraryRoot     string
	ContractRoot    string
	StripWhitespace bool

	SaveFlattened   bool
	FlattenedFolder string

	// Libraries are linked into later bytecode and reported with
	// verification submissions.
	Libraries []string

	Network string
	ChainID int64
	Account common.Address

	// Verify configures the poller. CompilerVersion and Libraries are
	// filled in from the build and the registry when left empty.
	Verify verification.Options
}

// Pipeline is one deployment run.
type Pipeline struct {
	opts     Options
	table    plan.Table
	suite    suite.Suite
	compiler Compiler
	ledger   Ledger
	explorer verification.Explorer
	history  History
	logger   *slog.Logger

	registry *registry.Registry

	mu      sync.RWMutex
	stage   Stage
	runID   string
	units   map[string]string
	build   *compiler.Result
	calls   []wiring.Call
	job     *verification.Job
	records []verification.Record
}

// New creates a pipeline. history may be nil.
func New(opts Options, table plan.Table, s suite.Suite, c Compiler, ledger Ledger, ex verification.Explorer, history History, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		opts:     opts,
		table:    table,
		suite:    s,
		compiler: c,
		ledger:   ledger,
		explorer: ex,
		history:  history,
		logger:   logger,
		registry: registry.New(),
		stage:    StageIdle,
	}
}

// Stage returns the current stage.
func (p *Pipeline) Stage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return string(p.stage)
}

func (p *Pipeline) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	p.logger.Debug("stage", "stage", string(s))
}

// Instances returns the registry entries in the order they were resolved.
func (p *Pipeline) Instances() []registry.Instance {
	return p.registry.All()
}

// Registry returns the run's registry.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Records returns the verification records produced so far.
func (p *Pipeline) Records() []verification.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.records)
}

// Calls returns the wiring calls of the last Wire.
func (p *Pipeline) Calls() []wiring.Call {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.calls)
}

// Artifacts returns the compiled artifacts, or nil before Build.
func (p *Pipeline) Artifacts() map[string]chains.Artifact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.build == nil {
		return nil
	}
	return p.build.Artifacts
}

// Units returns the flattened source units keyed by path.
func (p *Pipeline) Units() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.units
}

func (p *Pipeline) timed(stage Stage, fn func() error) error {
	p.setStage(stage)
	start := time.Now()
	err := fn()
	metrics.Stage(string(stage), time.Since(start))
	if err != nil {
		p.setStage(StageFailed)
	}
	return err
}

// Build aggregates and flattens the sources and compiles them.
func (p *Pipeline) Build(ctx context.Context) error {
	return p.timed(StageBuild, func() error {
		set, err := sources.Aggregate(p.opts.LibraryRoot, p.opts.ContractRoot)
		if err != nil {
			return fmt.Errorf("aggregating sources: %w", err)
		}
		units, err := sources.FlattenAll(set, sources.FlattenOptions{StripWhitespace: p.opts.StripWhitespace})
		if err != nil {
			return fmt.Errorf("flattening sources: %w", err)
		}
		p.logger.Info("sources flattened", "files", len(set.Files), "units", len(units))

		result, err := p.compiler.Compile(ctx, units)
		if err != nil {
			return err
		}

		p.mu.Lock()
		p.units, p.build = units, result
		p.mu.Unlock()
		return nil
	})
}

// Deploy checks the configuration of every identifier in the deployment
// order, then binds or deploys each one in order. Entries resolved before a
// failure stay in the registry and are recorded in the history.
func (p *Pipeline) Deploy(ctx context.Context) error {
	artifacts := p.Artifacts()
	if artifacts == nil {
		return ErrNotBuilt
	}
	return p.timed(StageDeploy, func() error {
		if err := p.table.Check(deployer.Identifiers(p.suite.Deploy)); err != nil {
			return err
		}

		before := p.registry.Len()
		exec := deployer.New(p.table, artifacts, p.registry, p.ledger, p.opts.Libraries, p.logger)
		err := exec.DeployAll(ctx, p.suite.Deploy)

		for _, inst := range p.registry.All()[before:] {
			p.record("deployment", func(h History) error {
				d := &storage.Deployment{RunID: p.runID, Contract: inst.ID.String(), Address: inst.Address.Hex(), Fresh: inst.Fresh}
				if inst.Fresh {
					d.TxHash = inst.TxHash.Hex()
				}
				return h.RecordDeployment(ctx, d)
			})
		}
		return err
	})
}

// Bind registers already deployed contracts without sending transactions.
// Steps of the deployment order missing from addresses are left out.
func (p *Pipeline) Bind(ctx context.Context, addresses map[plan.Identifier]common.Address) error {
	artifacts := p.Artifacts()
	if artifacts == nil {
		return ErrNotBuilt
	}
	return p.timed(StageDeploy, func() error {
		exec := deployer.New(p.table, artifacts, p.registry, nil, p.opts.Libraries, p.logger)
		for _, step := range p.suite.Deploy {
			if err := ctx.Err(); err != nil {
				return err
			}
			addr, ok := addresses[step.ID]
			if !ok {
				continue
			}
			if _, err := exec.Bind(step.ID, addr); err != nil {
				return err
			}
		}
		return nil
	})
}

// Wire runs the wiring steps against the registry.
func (p *Pipeline) Wire(ctx context.Context) ([]wiring.Call, error) {
	var calls []wiring.Call
	err := p.timed(StageWire, func() error {
		var err error
		calls, err = wiring.New(p.ledger, p.registry, p.logger).Run(ctx, p.suite.Wire)

		p.mu.Lock()
		p.calls = calls
		p.mu.Unlock()

		for _, c := range calls {
			p.record("wiring call", func(h History) error {
				w := &storage.WiringCall{RunID: p.runID, Step: c.Step, Status: string(c.Status)}
				if c.Status == wiring.StatusInvoked {
					w.TxHash = c.TxHash.Hex()
				}
				return h.RecordWiringCall(ctx, w)
			})
		}
		return err
	})
	return calls, err
}

// SaveFlattened writes the flattened units when saving is enabled.
func (p *Pipeline) SaveFlattened() error {
	if !p.opts.SaveFlattened {
		return nil
	}
	units := p.Units()
	if units == nil {
		return ErrNotBuilt
	}
	return p.timed(StageSave, func() error {
		if err := sources.Save(p.opts.FlattenedFolder, units); err != nil {
			return fmt.Errorf("saving flattened sources: %w", err)
		}
		p.logger.Info("flattened sources saved", "folder", p.opts.FlattenedFolder, "units", len(units))
		return nil
	})
}

// Targets returns one verification target per registry entry, in
// registry order.
func (p *Pipeline) Targets() []verification.Target {
	p.mu.RLock()
	artifacts, units := map[string]chains.Artifact(nil), p.units
	if p.build != nil {
		artifacts = p.build.Artifacts
	}
	p.mu.RUnlock()

	instances := p.registry.All()
	targets := make([]verification.Target, 0, len(instances))
	for _, inst := range instances {
		t := verification.Target{ID: inst.ID, Address: inst.Address, LinkedBytecode: inst.Bytecode}
		if art, ok := artifacts[inst.ID.Name]; ok {
			t.Source = units[art.SourcePath]
		}
		targets = append(targets, t)
	}
	return targets
}

func (p *Pipeline) verifyOptions() verification.Options {
	opts := p.opts.Verify
	if opts.CompilerVersion == "" {
		p.mu.RLock()
		if p.build != nil {
			opts.CompilerVersion = chains.EVMCompiler{Version: p.build.Version}.ExplorerVersion()
		}
		p.mu.RUnlock()
	}
	if opts.Libraries == nil {
		libs := p.registry.Libraries(p.opts.Libraries)
		for _, name := range p.opts.Libraries {
			if addr, ok := libs[name]; ok {
				opts.Libraries = append(opts.Libraries, explorer.Library{Name: name, Address: addr})
			}
		}
	}
	return opts
}

// StartVerify verifies every registry entry in the background. Cancelling
// the returned job stops verification only.
func (p *Pipeline) StartVerify(ctx context.Context) *verification.Job {
	p.setStage(StageVerify)
	poller := verification.New(p.explorer, p.verifyOptions(), p.logger)

	p.mu.Lock()
	p.records = nil
	p.mu.Unlock()

	job := poller.Start(ctx, p.Targets(), func(rec verification.Record) {
		p.mu.Lock()
		p.records = append(p.records, rec)
		p.mu.Unlock()

		p.record("verification", func(h History) error {
			return h.RecordVerification(context.WithoutCancel(ctx), &storage.Verification{
				RunID:    p.runID,
				Contract: rec.ID.String(),
				Address:  rec.Address.Hex(),
				Outcome:  string(rec.Outcome),
				Reason:   rec.Reason,
				GUID:     rec.GUID,
			})
		})
	})

	p.mu.Lock()
	p.job = job
	p.mu.Unlock()
	return job
}

// Verify verifies every registry entry and waits for the result.
func (p *Pipeline) Verify(ctx context.Context) []verification.Record {
	start := time.Now()
	records := p.StartVerify(ctx).Wait()
	metrics.Stage(string(StageVerify), time.Since(start))
	return records
}

// CancelVerify stops a running verification job.
func (p *Pipeline) CancelVerify() {
	p.mu.RLock()
	job := p.job
	p.mu.RUnlock()
	if job != nil {
		job.Cancel()
	}
}

// Report is the outcome of Run.
type Report struct {
	RunID        string
	Instances    []registry.Instance
	Calls        []wiring.Call
	Verification []verification.Record
}

// Run executes every stage in order. Build, deploy and wiring failures end
// the run; verification failures only show up in the report.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	p.beginRun(ctx)

	report, err := p.run(ctx)
	status, msg := storage.RunSucceeded, ""
	if err != nil {
		status, msg = storage.RunFailed, err.Error()
		p.setStage(StageFailed)
	} else {
		p.setStage(StageDone)
	}
	p.record("run result", func(h History) error {
		return h.FinishRun(context.WithoutCancel(ctx), p.runID, status, msg)
	})

	report.RunID = p.runID
	report.Instances = p.registry.All()
	return report, err
}

func (p *Pipeline) run(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := p.Build(ctx); err != nil {
		return report, err
	}
	if err := p.Deploy(ctx); err != nil {
		return report, err
	}
	calls, err := p.Wire(ctx)
	report.Calls = calls
	if err != nil {
		return report, err
	}
	if err := p.SaveFlattened(); err != nil {
		return report, err
	}
	report.Verification = p.Verify(ctx)
	return report, nil
}

// RunID returns the history ID of the current run, empty without history.
func (p *Pipeline) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

func (p *Pipeline) beginRun(ctx context.Context) {
	if p.history == nil {
		return
	}
	run := &storage.Run{Network: p.opts.Network, ChainID: p.opts.ChainID, Account: p.opts.Account.Hex()}
	if err := p.history.CreateRun(ctx, run); err != nil {
		p.logger.Warn("run history unavailable", "error", err)
		return
	}
	p.mu.Lock()
	p.runID = run.ID
	p.mu.Unlock()
	p.logger.Info("run started", "run", run.ID)
}

// record writes to the history when a run is being recorded.
func (p *Pipeline) record(what string, fn func(History) error) {
	if p.history == nil || p.RunID() == "" {
		return
	}
	if err := fn(p.history); err != nil {
		p.logger.Warn("failed to record "+what, "error", err)
	}
}
