// Package executor validates and runs externally requested commands under
// policy control. A command is only spawned after its policy is found, its
// validator allows it, and its executable resolves; denial and lookup
// failures are decided entirely before any process starts, so a rejected
// command has no side effects.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/gatekeeper/internal/observability"
	"github.com/haasonsaas/gatekeeper/internal/policy"
	"github.com/haasonsaas/gatekeeper/internal/security"
	"github.com/haasonsaas/gatekeeper/internal/validator"
)

// Status classifies the outcome of an execution request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusDenied  Status = "denied"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// SuccessSentinel replaces suppressed output of a successful command.
const SuccessSentinel = "Command executed successfully."

// DefaultTimeout bounds commands whose policy does not set one.
const DefaultTimeout = 60 * time.Second

// maxOutputBytes caps each captured stream.
const maxOutputBytes = 64000

// Result is the structured outcome returned to the caller.
type Result struct {
	ExecutionID string        `json:"execution_id"`
	Status      Status        `json:"status"`
	ReturnCode  *int          `json:"return_code,omitempty"`
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	Duration    time.Duration `json:"duration"`
}

// Executor looks up the policy, dispatches to the responsible validator,
// applies environment adjustments, and supervises the child process.
type Executor struct {
	store    *policy.Store
	registry *validator.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	// Overridable for tests.
	lookPath func(file string) (string, error)
	environ  func() []string
}

// New creates an executor. Logger and metrics may be nil.
func New(store *policy.Store, registry *validator.Registry, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics != nil {
		store.SetMetrics(metrics)
	}
	return &Executor{
		store:    store,
		registry: registry,
		logger:   logger.With("component", "executor"),
		metrics:  metrics,
		lookPath: exec.LookPath,
		environ:  os.Environ,
	}
}

// ExecuteString tokenizes a command string with simple quoting rules (no
// shell is ever involved) and executes the result.
func (e *Executor) ExecuteString(ctx context.Context, command string) Result {
	argv, err := security.SplitCommand(command)
	if err != nil {
		return Result{
			ExecutionID: uuid.NewString(),
			Status:      StatusError,
			Stderr:      err.Error(),
		}
	}
	return e.Execute(ctx, argv)
}

// Execute validates argv against policy and, if allowed, spawns the command
// with the adjusted environment under the resolved timeout.
func (e *Executor) Execute(ctx context.Context, argv []string) Result {
	id := uuid.NewString()
	if len(argv) == 0 {
		return Result{ExecutionID: id, Status: StatusError, Stderr: security.ErrEmptyCommand.Error()}
	}

	root, err := security.SanitizeExecutable(argv[0])
	if err != nil {
		e.logger.Warn("unsafe executable rejected", "execution_id", id, "error", err)
		return Result{ExecutionID: id, Status: StatusError, Stderr: err.Error()}
	}
	rootName := strings.ToLower(root)

	pol, ok := e.store.GetPolicy(rootName)
	if !ok {
		e.countDenial(rootName, "no_policy")
		e.logger.Info("command denied", "execution_id", id, "root_command", rootName, "reason", "no policy")
		return Result{
			ExecutionID: id,
			Status:      StatusDenied,
			Stderr:      "no policy for root command: " + rootName,
		}
	}

	val, ok := e.registry.Resolve(rootName, pol)
	if !ok {
		// A policy without an implementation is a configuration bug, not a denial.
		e.countDenial(rootName, "no_validator")
		e.logger.Error("no validator registered", "execution_id", id, "root_command", rootName)
		return Result{
			ExecutionID: id,
			Status:      StatusError,
			Stderr:      "no validator registered for root command: " + rootName,
		}
	}

	decision := val.Validate(argv[1:], pol)
	e.countValidation(rootName, decision.Allowed)
	if !decision.Allowed {
		e.countDenial(rootName, "policy_denied")
		e.logger.Info("command denied", "execution_id", id,
			"root_command", rootName, "reason", decision.Reason)
		return Result{ExecutionID: id, Status: StatusDenied, Stderr: decision.Reason}
	}

	path, err := e.lookPath(root)
	if err != nil {
		e.logger.Warn("executable not resolvable", "execution_id", id,
			"root_command", rootName, "error", err)
		return Result{ExecutionID: id, Status: StatusError, Stderr: err.Error()}
	}

	env := val.AdjustEnvironment(environMap(e.environ()), argv, pol)

	timeout := decision.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, argv[1:]...)
	cmd.Env = flattenEnv(env)
	cmd.WaitDelay = 5 * time.Second
	stdout := newLimitedBuffer(maxOutputBytes)
	stderr := newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		ExecutionID: id,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		Duration:    elapsed,
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimeout
	case runErr == nil:
		result.Status = StatusSuccess
		rc := 0
		result.ReturnCode = &rc
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Status = StatusFailed
			rc := exitErr.ExitCode()
			result.ReturnCode = &rc
		} else {
			result.Status = StatusError
			result.Stderr = runErr.Error()
		}
	}

	// Suppression only ever applies to successful output; failures stay
	// verbatim so the caller can see what went wrong.
	if result.Status == StatusSuccess && suppressRequested(decision) {
		result.Stdout = SuccessSentinel
		result.Stderr = ""
	}

	e.countExecution(rootName, result.Status, elapsed)
	e.logger.Info("command executed", "execution_id", id, "root_command", rootName,
		"status", string(result.Status), "duration_ms", elapsed.Milliseconds())
	return result
}

// suppressRequested honors the ValidationResult first and falls back to the
// resolved policy spec when the result itself does not request suppression.
func suppressRequested(decision policy.ValidationResult) bool {
	if decision.SuppressSuccessOutput {
		return true
	}
	if v, ok := decision.PolicySpec["suppress_success_output"].(bool); ok {
		return v
	}
	return false
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		if key, value, found := strings.Cut(entry, "="); found {
			env[key] = value
		}
	}
	return env
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}

func (e *Executor) countValidation(root string, allowed bool) {
	if e.metrics == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	e.metrics.ValidationCounter.WithLabelValues(root, decision).Inc()
}

func (e *Executor) countDenial(root, reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.DenialCounter.WithLabelValues(root, reason).Inc()
}

func (e *Executor) countExecution(root string, status Status, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ExecutionCounter.WithLabelValues(root, string(status)).Inc()
	e.metrics.ExecutionDuration.WithLabelValues(root).Observe(elapsed.Seconds())
}
