package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
	"github.com/cochaviz/ecuflash/internal/telemetry"
	"github.com/cochaviz/ecuflash/internal/variants"
)

const (
	DefaultDownloadTimeout      = 5 * time.Minute
	DefaultTargetCommandTimeout = 1 * time.Minute
)

// SourceFactory returns the mapping sources for a build. Sources are
// rebuilt on every run so edits to the tables are always picked up.
type SourceFactory func(BuildCoordinate) ([]variants.Source, error)

// Orchestrator runs provisioning requests against one probe. It holds no
// per-run state, but runs against the same probe must be serialized by the
// caller.
type Orchestrator struct {
	Layout  Layout
	Sources SourceFactory

	SDK       probe.SDK
	Target    probe.TargetConfig
	Workspace string

	Telemetry       *telemetry.Bracket
	TelemetryConfig string

	DownloadTimeout      time.Duration
	TargetCommandTimeout time.Duration
	PersistTimeout       time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Run executes req and returns its Result. The returned error is the fatal
// error of the run, also present in the result's records, and is nil
// exactly when the download succeeded.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{
		logger: o.logger(),
		result: Result{
			RunID:     uuid.NewString(),
			StartedAt: o.now(),
			Request:   req,
		},
	}
	r.logger = r.logger.With("run", r.result.RunID)
	r.logger.Info("provisioning run started",
		"coordinate", req.Coordinate.String(),
		"variant", req.VariantKey,
		"telemetry", req.Telemetry,
	)

	err := o.execute(ctx, req, r)
	if err != nil {
		r.fatal(err)
	}
	r.result.FinishedAt = o.now()

	if r.result.DownloadSucceeded {
		r.logger.Info("provisioning run succeeded",
			"firmware", r.result.FirmwarePath,
			"dataset", r.result.DatasetID,
			"warnings", len(r.result.Warnings()),
			"elapsed", r.result.Duration().Round(time.Millisecond),
		)
		return r.result, nil
	}
	r.logger.Error("provisioning run failed", "error", err)
	return r.result, err
}

func (o *Orchestrator) execute(ctx context.Context, req Request, r *run) error {
	if err := req.Validate(); err != nil {
		return step("validate request", fmt.Errorf("%w: %v", errInvalidRequest, err))
	}

	firmware, symbols, err := o.selectArtifacts(req, r)
	if err != nil {
		return err
	}
	r.result.FirmwarePath = firmware
	r.result.SymbolPath = symbols

	vmap, err := o.variantMap(ctx, req.Coordinate)
	if err != nil {
		return err
	}
	dataset, err := vmap.Resolve(req.VariantKey)
	if err != nil {
		return step("resolve variant", err)
	}
	r.result.DatasetID = dataset
	r.result.DatasetSource = vmap.Source(req.VariantKey)
	r.logger.Info("variant resolved", "variant", req.VariantKey, "dataset", dataset, "source", r.result.DatasetSource)

	if err := ctx.Err(); err != nil {
		return step("open probe session", err)
	}
	if o.SDK == nil {
		return step("open probe session", fmt.Errorf("%w: no probe driver configured", errInvalidConfig))
	}
	return o.withSession(ctx, o.workspace(req), r, func(session *probe.Session) error {
		return o.flash(ctx, session, req, r)
	})
}

// selectArtifacts locates both artifact kinds and applies the request's
// selection policies. Nothing on the target has been touched yet.
func (o *Orchestrator) selectArtifacts(req Request, r *run) (string, string, error) {
	fwSpec, symSpec, err := o.Layout.SearchSpecs(req.Coordinate)
	if err != nil {
		return "", "", step("build search spec", err)
	}

	locator := artifacts.NewLocator(r.logger)
	var selected [2]string
	for i, item := range []struct {
		kind   artifacts.Kind
		spec   artifacts.SearchSpec
		policy artifacts.SelectionPolicy
	}{
		{artifacts.Firmware, fwSpec, req.FirmwarePolicy},
		{artifacts.SymbolTable, symSpec, req.SymbolPolicy},
	} {
		set, err := locator.Locate(item.kind, item.spec)
		for _, skipped := range set.Skipped {
			r.warn("locate "+string(item.kind), CodeDirectorySkipped, "", skipped.String())
		}
		if err != nil {
			return "", "", step("locate "+string(item.kind), err)
		}
		policy := item.policy
		if policy == nil {
			policy = artifacts.FirstMatch{}
		}
		path, err := policy.Select(set)
		if err != nil {
			return "", "", step("select "+string(item.kind), err)
		}
		if set.Ambiguous() {
			r.logger.Info("multiple artifacts matched", "kind", item.kind, "count", set.Len(), "selected", path)
		}
		selected[i] = path
	}
	return selected[0], selected[1], nil
}

func (o *Orchestrator) variantMap(ctx context.Context, c BuildCoordinate) (*variants.Map, error) {
	if o.Sources == nil {
		return nil, step("load variant tables", fmt.Errorf("%w: no mapping sources configured", errInvalidConfig))
	}
	sources, err := o.Sources(c)
	if err != nil {
		return nil, step("load variant tables", err)
	}
	tables, err := variants.LoadTables(ctx, sources...)
	if err != nil {
		return nil, step("load variant tables", err)
	}
	vmap, err := variants.Merge(tables...)
	if err != nil {
		return nil, step("merge variant tables", err)
	}
	return vmap, nil
}

// withSession opens a probe session and guarantees it is persisted and
// closed exactly once, whatever body does.
func (o *Orchestrator) withSession(ctx context.Context, workspace string, r *run, body func(*probe.Session) error) error {
	session := probe.NewSession(o.SDK, workspace, r.logger)
	if err := session.Open(ctx); err != nil {
		return step("open probe session", err)
	}
	r.result.SessionOpened = true
	defer o.release(ctx, session, r)
	return body(session)
}

func (o *Orchestrator) release(ctx context.Context, session *probe.Session, r *run) {
	if session.State() >= probe.StateConfigured {
		// Diagnostics are saved even for an interrupted run; the timeout
		// keeps a hung save from blocking the close below.
		if err := session.Persist(context.WithoutCancel(ctx), o.PersistTimeout); err != nil {
			r.logger.Warn("failed to persist workspace", "error", err)
			r.warn("persist workspace", CodePersistFailed, causeOf(err), err.Error())
		}
	}
	if err := session.Close(ctx); err != nil {
		r.logger.Warn("failed to close probe session", "error", err)
		r.warn("close probe session", CodeCloseFailed, causeOf(err), err.Error())
	}
}

func (o *Orchestrator) flash(ctx context.Context, session *probe.Session, req Request, r *run) error {
	if err := session.ConfigureTarget(ctx, o.Target); err != nil {
		return step("configure target", err)
	}
	if err := session.AttachFirmware(ctx, r.result.FirmwarePath, r.result.SymbolPath); err != nil {
		return step("attach firmware", err)
	}
	if req.PreErase {
		if err := session.EraseTarget(ctx, o.targetCommandTimeout()); err != nil {
			return step("pre-erase target", err)
		}
	}

	bracket := o.Telemetry
	if bracket == nil {
		bracket = telemetry.NewBracket(nil, r.logger)
	}
	report, err := bracket.With(ctx, o.TelemetryConfig, req.Telemetry, func(ctx context.Context) error {
		return session.Download(ctx, o.downloadTimeout())
	})
	for _, warning := range report.Warnings {
		r.warn("telemetry "+warning.Op, CodeTelemetry, causeOf(warning.Err), warning.Err.Error())
	}
	r.result.TelemetryCaptured = report.Captured

	if err != nil {
		if req.TargetCommandsOnFailure && req.Erase {
			r.logger.Warn("erasing target after failed download")
			if eraseErr := session.EraseTarget(ctx, o.targetCommandTimeout()); eraseErr != nil {
				r.record("erase target", eraseErr, SeverityError)
			}
		}
		return step("download", err)
	}
	r.result.DownloadSucceeded = true

	// The image is on the target from here on; later failures are recorded
	// without undoing the download.
	if req.Reset {
		if err := session.ResetTarget(ctx, o.targetCommandTimeout()); err != nil {
			r.record("reset target", err, SeverityError)
		}
	}
	if req.Erase {
		if err := session.EraseTarget(ctx, o.targetCommandTimeout()); err != nil {
			r.record("erase target", err, SeverityError)
		}
	}
	return nil
}

func (o *Orchestrator) workspace(req Request) string {
	if strings.TrimSpace(req.Workspace) != "" {
		return req.Workspace
	}
	return o.Workspace
}

func (o *Orchestrator) logger() *slog.Logger {
	return logging.Ensure(o.Logger).With("component", "orchestrator")
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) downloadTimeout() time.Duration {
	if o.DownloadTimeout > 0 {
		return o.DownloadTimeout
	}
	return DefaultDownloadTimeout
}

func (o *Orchestrator) targetCommandTimeout() time.Duration {
	if o.TargetCommandTimeout > 0 {
		return o.TargetCommandTimeout
	}
	return DefaultTargetCommandTimeout
}

// run accumulates the result of one Run call.
type run struct {
	logger *slog.Logger
	result Result
}

func (r *run) fatal(err error) {
	name := "run"
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		name = stepErr.Step
		err = stepErr.Err
	}
	r.record(name, err, SeverityFatal)
}

func (r *run) record(name string, err error, severity Severity) {
	code, cause := Classify(err)
	r.result.Records = append(r.result.Records, Record{
		Step:     name,
		Code:     code,
		Cause:    cause,
		Severity: severity,
		Message:  err.Error(),
	})
	if severity != SeverityFatal {
		r.logger.Warn("step failed", "step", name, "code", code, "error", err)
	}
}

func (r *run) warn(name string, code, cause Code, message string) {
	r.result.Records = append(r.result.Records, Record{
		Step:     name,
		Code:     code,
		Cause:    cause,
		Severity: SeverityWarning,
		Message:  message,
	})
}

func step(name string, err error) error {
	return &StepError{Step: name, Err: err}
}

// causeOf returns the cause of an error recorded under a caller-chosen
// code. A bare timeout or interrupt is its own cause.
func causeOf(err error) Code {
	code, cause := Classify(err)
	if cause == "" && (code == CodeTimeout || code == CodeInterrupted) {
		return code
	}
	return cause
}
