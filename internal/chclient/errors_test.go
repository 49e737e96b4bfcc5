package chclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrk-andreev/chprobe/internal/probe"
)

func TestClassify_NativeException(t *testing.T) {
	ex := &clickhouse.Exception{
		Code:    452,
		Name:    "DB::Exception",
		Message: "Setting max_memory_usage shouldn't be less than 5000000000",
	}

	err := classify(fmt.Errorf("query: %w", ex))

	var se *probe.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int32(452), se.Code)
	assert.Equal(t, "Code: 452. DB::Exception: Setting max_memory_usage shouldn't be less than 5000000000", se.Message)
}

func TestClassify_HTTPBody(t *testing.T) {
	err := classify(errors.New("clickhouse [execute]:: 500 code: Code: 452. DB::Exception: Setting max_memory_usage shouldn't be 6000000000. (SETTING_CONSTRAINT_VIOLATION) (version 24.8.1.1)\n"))

	var se *probe.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int32(452), se.Code)
	assert.Contains(t, se.Message, " Setting max_memory_usage shouldn't be 6000000000")
}

func TestClassify_TransportUnchanged(t *testing.T) {
	for _, in := range []error{
		context.DeadlineExceeded,
		errors.New("dial tcp 127.0.0.1:9000: connect: connection refused"),
	} {
		out := classify(in)
		assert.Equal(t, in, out)
		var se *probe.ServerError
		assert.False(t, errors.As(out, &se))
	}
	assert.NoError(t, classify(nil))
}
