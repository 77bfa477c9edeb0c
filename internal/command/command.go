// Package command renders shell command templates and runs them under a
// context. It backs the command-line probe and bus-tool adapters.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"
)

// Template is a parsed command line with text/template placeholders.
type Template struct {
	name string
	tmpl *template.Template
}

// Parse parses text as a command template. Blank text yields a nil Template,
// which callers treat as "not configured".
func Parse(name, text string) (*Template, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s command template: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Name returns the label the template was parsed with.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("command template is not configured")
	}
	var out bytes.Buffer
	if err := t.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s command: %w", t.name, err)
	}
	rendered := strings.TrimSpace(out.String())
	if rendered == "" {
		return "", fmt.Errorf("%s command rendered empty", t.name)
	}
	return rendered, nil
}

// Result holds the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, stderr)
}

// Runner executes rendered commands through a shell.
type Runner struct {
	Shell string   // defaults to "sh"
	Dir   string   // working directory, inherited when empty
	Env   []string // appended to the process environment
}

// Run executes command and waits for it. When ctx ends first the process is
// killed and ctx.Err() is returned wrapped.
func (r Runner) Run(ctx context.Context, command string) (Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("command %q interrupted: %w", command, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Command: command, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return result, fmt.Errorf("run command %q: %w", command, err)
	}
	return result, nil
}
