package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(CodeWorkerTimeout, "worker timeout exceeded")
	assert.Equal(t, "WORKER_TIMEOUT: worker timeout exceeded", plain.Error())

	cause := fmt.Errorf("disk full")
	wrapped := Wrap(CodeTaskNotFound, "load task", cause)
	assert.Contains(t, wrapped.Error(), "TASK_NOT_FOUND")
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.True(t, errors.Is(wrapped, cause))
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := Payload(CodeMainTimeout, "main runner timeout")
	assert.Equal(t, "MAIN_TIMEOUT", payload["code"])
	assert.Equal(t, "main runner timeout", payload["message"])
	assert.Equal(t, CodeMainTimeout, PayloadCode(payload))
}

func TestPayloadCodeAbsent(t *testing.T) {
	assert.Equal(t, Code(""), PayloadCode(nil))
	assert.Equal(t, Code(""), PayloadCode(map[string]any{"message": "no code"}))
	assert.Equal(t, Code(""), PayloadCode(map[string]any{"code": 42}))
}
