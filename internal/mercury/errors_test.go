package mercury

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RuntimeError
		want string
	}{
		{"bare", NewDisconnectedError("no kernel"), "DISCONNECTED: no kernel"},
		{"cell", NewUnknownCellError("c9"), "UNKNOWN_CELL: cell not found in notebook order (cell=c9)"},
		{
			"cell and model",
			&RuntimeError{Code: ErrCodeUnresolvedControl, Message: "no owner", CellID: "c1", ModelID: "w1"},
			"UNRESOLVED_CONTROL: no owner (cell=c1, model=w1)",
		},
		{"cause", NewExecutionError("c2", errors.New("boom")), "EXECUTION: executor rejected cell (cell=c2): boom"},
		{"unresolved", NewUnresolvedControlError("w7"), "UNRESOLVED_CONTROL: failed to find the cell associated with control (model=w7)"},
		{"parse", NewParseError(errors.New("bad")), "PARSE: malformed control payload: bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestHasCode_Wrapped(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("send: %w", NewExecutionError("c1", cause))

	assert.True(t, HasCode(err, ErrCodeExecution))
	assert.False(t, IsDisconnected(err))
	assert.ErrorIs(t, err, cause)

	assert.True(t, IsDisposed(fmt.Errorf("run: %w", NewDisposedError("scheduler"))))
	assert.False(t, IsDisposed(nil))
}
