package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncode(t *testing.T) {
	line, err := WriteCard("S-17", "김민수").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"WRITE_CARD","student_id":"S-17","student_name":"김민수"}`, line)
	assert.NotContains(t, line, "\n")

	line, err = StatusRequest().Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"STATUS"}`, line)

	_, err = Command{}.Encode()
	assert.Error(t, err)
}
