package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoastError_Format(t *testing.T) {
	err := NewError(ErrCodeConfiguration, "missing prompt")
	assert.Equal(t, "[CONFIGURATION_ERROR] missing prompt", err.Error())

	err = StepNotFoundError("lint")
	assert.Equal(t, `[STEP_NOT_FOUND] step lint: step "lint" not found`, err.Error())
}

func TestRoastError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := StepExecutionError("summarize", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "summarize", err.Step)
	assert.Equal(t, ErrCodeStepExecution, err.Code)
}

func TestRoastError_HTTPStatus(t *testing.T) {
	err := NewError(ErrCodeProvider, "throttled").WithDetails(map[string]any{"http_status": 429})
	assert.Equal(t, 429, err.HTTPStatus())
	assert.Equal(t, 0, NewError(ErrCodeProvider, "x").HTTPStatus())
}

func TestCommandExecutionError(t *testing.T) {
	err := &CommandExecutionError{Command: "exit 1", ExitStatus: 1}
	assert.Equal(t, `[COMMAND_EXECUTION_ERROR] command "exit 1" exited with status 1`, err.Error())

	var target *CommandExecutionError
	wrapped := fmt.Errorf("running: %w", err)
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, 1, target.ExitStatus)
}

func TestCodes_WalksChain(t *testing.T) {
	cmdErr := &CommandExecutionError{Command: "false", ExitStatus: 1}
	err := StepExecutionError("build", cmdErr)

	codes := Codes(err)
	assert.Equal(t, []string{ErrCodeStepExecution, ErrCodeCommandExecution, ErrCodeAny}, codes)
	assert.True(t, HasCode(err, ErrCodeCommandExecution))
	assert.True(t, HasCode(errors.New("plain"), ErrCodeAny))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeStepExecution))
	assert.Nil(t, Codes(nil))
}

func TestCodes_Joined(t *testing.T) {
	err := errors.Join(ConfigurationError("bad"), &CommandExecutionError{Command: "x"})
	assert.True(t, HasCode(err, ErrCodeConfiguration))
	assert.True(t, HasCode(err, ErrCodeCommandExecution))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"configuration", ConfigurationError("bad"), true},
		{"step not found", StepNotFoundError("x"), true},
		{"unknown type", UnknownStepTypeError("weird", "x"), true},
		{"cancelled", context.Canceled, true},
		{"step execution", StepExecutionError("x", errors.New("y")), false},
		{"wrapped configuration", StepExecutionError("x", ConfigurationError("bad")), true},
		{"command", &CommandExecutionError{Command: "x", ExitStatus: 2}, false},
		{"plain", errors.New("plain"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestCodeForName(t *testing.T) {
	code, ok := CodeForName("CommandExecutionError")
	require.True(t, ok)
	assert.Equal(t, ErrCodeCommandExecution, code)

	code, ok = CodeForName("StandardError")
	require.True(t, ok)
	assert.Equal(t, ErrCodeAny, code)

	code, ok = CodeForName("STEP_EXECUTION_ERROR")
	require.True(t, ok)
	assert.Equal(t, ErrCodeStepExecution, code)

	_, ok = CodeForName("NoSuchError")
	assert.False(t, ok)
}
