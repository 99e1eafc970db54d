package frontend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ExecNotifier runs a program with the article's path as its argument.
type ExecNotifier struct {
	prefixFilter
	program string
	env     []string
}

func NewExec(program, prefix string) *ExecNotifier {
	return &ExecNotifier{prefixFilter: prefixFilter(prefix), program: program, env: os.Environ()}
}

func (e *ExecNotifier) Name() string { return TypeExec }

func (e *ExecNotifier) Notify(ctx context.Context, ev Event) error {
	cmd := exec.CommandContext(ctx, e.program, ev.Path)
	cmd.Env = e.env
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &NotifierError{Frontend: TypeExec, MessageID: ev.MessageID, Err: err}
	}
	return nil
}
