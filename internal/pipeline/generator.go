// Package pipeline runs build targets through the cache: resolve inputs,
// decide, restore or regenerate, record.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Generator produces a target's outputs.
type Generator interface {
	Generate(ctx context.Context) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) error

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context) error {
	return f(ctx)
}

// maxCapturedOutput bounds the generator output kept for error messages.
const maxCapturedOutput = 4 * 1024

// Command runs a subprocess. Without Stdout and Stderr its output is
// captured and the tail is attached to the error when it fails.
type Command struct {
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Generate runs the command and waits for it.
func (c *Command) Generate(ctx context.Context) error {
	if len(c.Args) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var captured bytes.Buffer
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = &captured
	}
	if cmd.Stderr == nil {
		cmd.Stderr = &captured
	}

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(tail(captured.String(), maxCapturedOutput))
		if out == "" {
			return fmt.Errorf("%s: %w", c, err)
		}
		return fmt.Errorf("%s: %w\n%s", c, err, out)
	}
	return nil
}

func (c *Command) String() string {
	return strings.Join(c.Args, " ")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
