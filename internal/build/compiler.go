// Package build tracks source-to-artifact dependency edges, performs
// incremental recompilation through a pluggable external compiler, and
// publishes an atomic manifest of current artifacts. The graph exclusively
// owns its node set; all external reads go through the published manifest
// snapshot.
package build

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os/exec"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

// CompileResult is the output of compiling one source file.
type CompileResult struct {
	Artifact  []byte
	DependsOn []string
}

// Compiler is the build collaborator contract: compile one source file into
// one output artifact plus its dependency list. The core invokes it but does
// not implement compilation.
type Compiler interface {
	Compile(ctx context.Context, sourcePath string) (*CompileResult, error)
}

// ExecCompiler invokes the external bundler binary. The bundler's compile
// mode writes a JSON document to stdout:
//
//	{"artifact": "<base64>", "dependsOn": ["app/lib.ts", ...]}
//
// and reports diagnostics on stderr with a non-zero exit.
type ExecCompiler struct {
	Command string
	Target  string
	Minify  bool

	parser *tavoerrors.DiagnosticParser
}

// NewExecCompiler creates a compiler invoking the given bundler command.
func NewExecCompiler(command, target string, minify bool) *ExecCompiler {
	return &ExecCompiler{
		Command: command,
		Target:  target,
		Minify:  minify,
		parser:  tavoerrors.NewDiagnosticParser(),
	}
}

type compileOutput struct {
	Artifact  string   `json:"artifact"`
	DependsOn []string `json:"dependsOn"`
}

// Compile runs the bundler for one source file.
func (c *ExecCompiler) Compile(ctx context.Context, sourcePath string) (*CompileResult, error) {
	args := []string{"compile", "--file", sourcePath, "--target", c.Target}
	if c.Minify {
		args = append(args, "--minify")
	}

	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := c.parser.First(stderr.String())
		berr := tavoerrors.NewBuildError(sourcePath, diag.Message, err)
		if diag.File != "" {
			berr = berr.WithLocation(diag.File, diag.Line, diag.Column)
		} else {
			berr = berr.WithLocation(sourcePath, 0, 0)
		}
		return nil, berr
	}

	var out compileOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, tavoerrors.NewBuildError(sourcePath, "bundler produced invalid output", err)
	}

	artifact, err := base64.StdEncoding.DecodeString(out.Artifact)
	if err != nil {
		return nil, tavoerrors.NewBuildError(sourcePath, "bundler artifact is not valid base64", err)
	}

	return &CompileResult{Artifact: artifact, DependsOn: out.DependsOn}, nil
}
