package respcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringCoversEveryCode(t *testing.T) {
	for c := Success; c <= UnknownError; c++ {
		assert.NotEmpty(t, c.String(), "code %d should have a name", c)
	}
}

func TestStringUnknownValueFallsBackToUnknownError(t *testing.T) {
	assert.Equal(t, "UnknownError", Code(999).String())
	assert.Equal(t, "UnknownError", Code(-1).String())
}

func TestAsErrorSuccessIsNil(t *testing.T) {
	assert.NoError(t, AsError(Success))
}

func TestAsErrorRoundTrips(t *testing.T) {
	err := AsError(FileAccessError)
	require.Error(t, err)

	var respErr *Error
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, FileAccessError, respErr.Code)
	assert.Equal(t, "FileAccessError", err.Error())
}
