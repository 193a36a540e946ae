package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/pipeline"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
)

func TestFailReportsSignal(t *testing.T) {
	var out bytes.Buffer
	err := &pipeline.StageError{Circuit: "multiplier", Stage: "compile", Err: &toolchain.ExecutionError{
		Command:  "circom multiplier.circom",
		ExitCode: 137,
		Signal:   "killed",
		Err:      errors.New("signal: killed"),
	}}

	code := fail(&out, zaptest.NewLogger(t), err)

	assert.Equal(t, pipeline.ExitStageFailure, code)
	assert.Contains(t, out.String(), "failed command: circom multiplier.circom")
	assert.Contains(t, out.String(), "terminated by signal: killed")
	assert.NotContains(t, out.String(), "exit status")
}

func TestFailReportsExitStatus(t *testing.T) {
	var out bytes.Buffer
	err := &pipeline.StageError{Circuit: "multiplier", Stage: "compile", Err: &toolchain.ExecutionError{
		Command:  "circom multiplier.circom",
		ExitCode: 3,
		Err:      errors.New("exit status 3"),
	}}

	fail(&out, zaptest.NewLogger(t), err)

	assert.Contains(t, out.String(), "exit status: 3")
}

func TestFailWithoutCommand(t *testing.T) {
	var out bytes.Buffer
	fail(&out, zaptest.NewLogger(t), errors.New("boom"))

	assert.Equal(t, "error: boom\n", out.String())
}
