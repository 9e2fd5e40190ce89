package screenrec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// CommandRunner runs an external tool to completion and hands back what it printed
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

type execRunner struct{}

// NewExecRunner returns a CommandRunner backed by os/exec
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	util.HideConsole(cmd)

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", name, ctxErr)
		} else {
			err = classifyExecError(name, err)
		}
	}

	return stdout.Bytes(), stderr.Bytes(), err
}

// classifyExecError maps "binary not there" to ErrToolNotFound and leaves exit errors alone
func classifyExecError(name string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var pathErr *exec.Error
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %s: %v", ErrToolNotFound, name, pathErr.Err)
	}

	return err
}
