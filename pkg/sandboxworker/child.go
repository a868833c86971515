package sandboxworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"plugin"
	"syscall"
	"time"

	"github.com/caster-net/caster/pkg/sdk"
)

// ChildCommand is the argv[1] marker that switches the binary into child
// mode. The worker main must dispatch to RunChild before doing anything
// else when it sees this argument.
const ChildCommand = "child"

// killGrace is how long a timed-out child gets to exit after SIGTERM
// before it is killed.
const killGrace = time.Second

// resultFD is the pipe the child writes its result to. The parent passes
// the write end as the first extra file, which lands at descriptor 3.
const resultFD = 3

// Error codes reported by the child process.
const (
	CodeBadRequest         = "bad_request"
	CodeSeccompFailed      = "seccomp_failed"
	CodeArtifactLoadFailed = "artifact_load_failed"
	CodeMissingEntrypoint  = "missing_entrypoint"
	CodeEntrypointError    = "entrypoint_error"
	CodeChildFailed        = "child_failed"
)

// TimeoutError reports that the entrypoint exceeded its wall-clock budget
// and the child process was terminated.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("entrypoint timed out after %s", e.Timeout)
}

// CodedError carries a machine-readable failure code from the child back
// to the HTTP layer.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// childRequest is the JSON document the parent writes to the child's stdin.
type childRequest struct {
	Entrypoint string         `json:"entrypoint"`
	AgentPath  string         `json:"agent_path"`
	SessionID  string         `json:"session_id"`
	Token      string         `json:"token"`
	HostURL    string         `json:"host_url"`
	Payload    map[string]any `json:"payload"`
	Context    map[string]any `json:"context"`
	ToolConfig map[string]any `json:"tool_config,omitempty"`
}

// childResult is the JSON document the child writes to the result pipe.
type childResult struct {
	Status  string         `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

const (
	childStatusOK    = "ok"
	childStatusError = "error"
)

// ────────────────────────────────────────────────────────────
// Parent side
// ────────────────────────────────────────────────────────────

// Runner executes entrypoint calls by re-executing the worker binary as a
// short-lived child process. The child installs a seccomp filter that
// denies task creation before any agent code runs, so the filter never
// constrains the server process itself.
type Runner struct {
	agentPath string
	timeout   time.Duration
	logger    *slog.Logger

	// execPath is the binary to re-execute. Defaults to /proc/self/exe;
	// tests point it at a stub.
	execPath string
}

var _ EntrypointRunner = (*Runner)(nil)

// NewRunner creates a runner that loads the agent artifact at agentPath
// and bounds every entrypoint call by timeout.
func NewRunner(agentPath string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		agentPath: agentPath,
		timeout:   timeout,
		logger:    logger.With("component", "entrypoint_runner"),
		execPath:  "/proc/self/exe",
	}
}

// Run spawns one child per call.
//
// Flow:
// 1. Serialize the request and hand it to the child on stdin
// 2. Pass the write end of a result pipe as fd 3
// 3. Wait for exit, the timeout, or context cancellation
// 4. On timeout send SIGTERM, give killGrace, then SIGKILL
// 5. Decode the child's result from the pipe
func (r *Runner) Run(ctx context.Context, req EntryRequest) (map[string]any, error) {
	input, err := json.Marshal(childRequest{
		Entrypoint: req.Entrypoint,
		AgentPath:  r.agentPath,
		SessionID:  req.SessionID,
		Token:      req.Token,
		HostURL:    req.HostURL,
		Payload:    req.Payload,
		Context:    req.Context,
		ToolConfig: req.ToolConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode child request: %w", err)
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create result pipe: %w", err)
	}
	defer readEnd.Close()

	cmd := exec.Command(r.execPath, ChildCommand)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{writeEnd}

	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		return nil, fmt.Errorf("failed to start entrypoint child: %w", err)
	}
	// The parent's copy must close so the reader sees EOF when the child
	// exits.
	writeEnd.Close()

	resultCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(readEnd)
		resultCh <- data
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case waitErr := <-waitCh:
		return decodeChildResult(<-resultCh, waitErr)
	case <-timer.C:
		r.logger.Warn("Entrypoint timed out, terminating child",
			"entrypoint", req.Entrypoint,
			"session_id", req.SessionID,
			"timeout", r.timeout)
		r.terminate(cmd, waitCh)
		<-resultCh
		return nil, &TimeoutError{Timeout: r.timeout}
	case <-ctx.Done():
		r.terminate(cmd, waitCh)
		<-resultCh
		return nil, fmt.Errorf("entrypoint call cancelled: %w", ctx.Err())
	}
}

// terminate asks the child to exit and kills it after the grace period.
func (r *Runner) terminate(cmd *exec.Cmd, waitCh <-chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-waitCh
	}
}

// decodeChildResult turns the pipe contents into the entrypoint's answer
// or a CodedError. An empty pipe means the child died before reporting.
func decodeChildResult(data []byte, waitErr error) (map[string]any, error) {
	if len(data) == 0 {
		msg := "child exited without a result"
		if waitErr != nil {
			msg = fmt.Sprintf("child failed: %v", waitErr)
		}
		return nil, &CodedError{Code: CodeChildFailed, Message: msg}
	}

	var result childResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &CodedError{Code: CodeChildFailed, Message: fmt.Sprintf("failed to decode child result: %v", err)}
	}
	if result.Status != childStatusOK {
		return nil, &CodedError{Code: result.Code, Message: result.Message}
	}
	return result.Result, nil
}

// ────────────────────────────────────────────────────────────
// Child side
// ────────────────────────────────────────────────────────────

// RunChild executes one entrypoint call inside the child process and
// returns the process exit code. The caller must invoke it before starting
// anything else when argv[1] equals ChildCommand.
//
// Flow:
// 1. Read the request from stdin
// 2. Install the task-deny seccomp filter
// 3. Load the agent artifact and look up the entrypoint
// 4. Run the entrypoint with a toolbox bound to this session
// 5. Write the result to the pipe at fd 3
func RunChild() int {
	out := os.NewFile(resultFD, "result-pipe")
	if out == nil {
		fmt.Fprintln(os.Stderr, "caster-sandbox child: result pipe missing")
		return 1
	}
	defer out.Close()

	req, err := readChildRequest(os.Stdin)
	if err != nil {
		return writeChildResult(out, childResult{Status: childStatusError, Code: CodeBadRequest, Message: err.Error()})
	}

	if err := installTaskDenyFilter(); err != nil {
		return writeChildResult(out, childResult{Status: childStatusError, Code: CodeSeccompFailed, Message: err.Error()})
	}

	fn, cerr := loadEntrypoint(req.AgentPath, req.Entrypoint)
	if cerr != nil {
		return writeChildResult(out, childResult{Status: childStatusError, Code: cerr.Code, Message: cerr.Message})
	}

	callContext := req.Context
	if req.ToolConfig != nil {
		if callContext == nil {
			callContext = map[string]any{}
		}
		callContext["tool_config"] = req.ToolConfig
	}

	tb := sdk.NewToolbox(req.HostURL, req.SessionID, req.Token)
	result, err := fn(context.Background(), tb, req.Payload, callContext)
	if err != nil {
		return writeChildResult(out, childResult{Status: childStatusError, Code: CodeEntrypointError, Message: err.Error()})
	}
	return writeChildResult(out, childResult{Status: childStatusOK, Result: result})
}

func readChildRequest(in io.Reader) (*childRequest, error) {
	var req childRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode child request: %w", err)
	}
	if req.Entrypoint == "" {
		return nil, fmt.Errorf("child request missing entrypoint")
	}
	if req.AgentPath == "" {
		return nil, fmt.Errorf("child request missing agent path")
	}
	return &req, nil
}

// loadEntrypoint opens the agent artifact and resolves the named
// entrypoint from the registry its init populated. The artifact must be a
// Go plugin built against the same sdk package.
func loadEntrypoint(agentPath, name string) (sdk.Entrypoint, *CodedError) {
	if _, err := plugin.Open(agentPath); err != nil {
		return nil, &CodedError{Code: CodeArtifactLoadFailed, Message: fmt.Sprintf("failed to load agent artifact: %v", err)}
	}
	fn, ok := sdk.Lookup(name)
	if !ok {
		return nil, &CodedError{Code: CodeMissingEntrypoint, Message: fmt.Sprintf("entrypoint not found: %s", name)}
	}
	return fn, nil
}

func writeChildResult(out *os.File, result childResult) int {
	if err := json.NewEncoder(out).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "caster-sandbox child: failed to write result: %v\n", err)
		return 1
	}
	if result.Status != childStatusOK {
		return 1
	}
	return 0
}
