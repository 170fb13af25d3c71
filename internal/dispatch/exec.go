package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// Environment passed to command workers.
const (
	EnvGateName      = "GATE_NAME"
	EnvChangeSetRef  = "CHANGESET_REF"
	EnvAttemptNumber = "ATTEMPT_NUMBER"
	EnvPriorEvidence = "PRIOR_EVIDENCE"
	EnvSpecialist    = "SPECIALIST"
)

// exitNotFound is the shell's exit status for a missing command.
const exitNotFound = 127

// maxOutput caps captured worker output.
const maxOutput = 1 << 20

// waitDelay bounds how long a killed command's children may hold its
// output pipes open.
const waitDelay = 2 * time.Second

// ExecWorker runs an external command as a gate worker.
//
// The command's last stdout line that parses as a JSON object
// {"status", "evidence", "fix_applied"} is the result. Without one, exit
// status 0 is pass and anything else is fail, with the tail of the output
// as evidence. A command that cannot start is unavailable.
type ExecWorker struct {
	Command []string
	Env     map[string]string
	Dir     string
}

// Run implements Worker.
func (w *ExecWorker) Run(ctx context.Context, req Request) (Result, error) {
	if len(w.Command) == 0 {
		return Result{}, Unavailable("empty command")
	}

	cmd := exec.CommandContext(ctx, w.Command[0], w.Command[1:]...)
	cmd.Dir = w.Dir
	if cmd.Dir == "" {
		cmd.Dir = req.Workdir
	}
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(),
		EnvGateName+"="+req.Gate,
		EnvChangeSetRef+"="+req.ChangeSetRef,
		EnvAttemptNumber+"="+strconv.Itoa(req.Attempt),
		EnvPriorEvidence+"="+req.PriorEvidence,
	)
	if req.Specialist != "" {
		cmd.Env = append(cmd.Env, EnvSpecialist+"="+req.Specialist)
	}
	for k, v := range w.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = maxOutput, maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrWorkerTimeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		if exitErr.ExitCode() == exitNotFound {
			return Result{}, Unavailable("%s: command not found", w.Command[0])
		}
	case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, os.ErrNotExist), errors.Is(runErr, os.ErrPermission):
		return Result{}, Unavailable("%s: %v", w.Command[0], runErr)
	default:
		return Result{}, fmt.Errorf("running %s: %w", w.Command[0], runErr)
	}

	if res, ok := parseResultLine(stdout.Bytes()); ok {
		return res, nil
	}

	tail := lastLine(stdout.Bytes())
	if tail == "" {
		tail = lastLine(stderr.Bytes())
	}
	if runErr == nil {
		return Result{Status: ledger.StatusPass, Evidence: tail}, nil
	}
	if tail == "" {
		tail = runErr.Error()
	}
	return Result{Status: ledger.StatusFail, Evidence: fmt.Sprintf("exit %d: %s", exitErr.ExitCode(), tail)}, nil
}

func parseResultLine(out []byte) (Result, bool) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var res Result
		if err := json.Unmarshal(line, &res); err != nil {
			continue
		}
		if res.Status == "" {
			continue
		}
		return res, true
	}
	return Result{}, false
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// limitedBuffer keeps the last limit bytes written.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > b.limit {
		p = p[len(p)-b.limit:]
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
