package pmaclink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTableIsOneIndexed(t *testing.T) {
	assert.Equal(t, "command not allowed during program execution", ErrorDescription(1))
	assert.Equal(t, "", ErrorDescription(0))
	assert.Equal(t, "fread flash bad", ErrorDescription(22))
}

func TestIsRetryableOnlyCodeOne(t *testing.T) {
	assert.True(t, IsRetryable(1))
	assert.False(t, IsRetryable(2))
	assert.False(t, IsRetryable(0))
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Code: 11}
	assert.Contains(t, err.Error(), "011")
	assert.Contains(t, err.Error(), "previous move not complete")

	withCmd := &ProtocolError{Code: 11, Command: "#1J+"}
	assert.Contains(t, withCmd.Error(), "#1J+")
}

func TestProtocolErrorUnknownCode(t *testing.T) {
	err := &ProtocolError{Code: 999}
	assert.Contains(t, err.Error(), "unknown error")
}
