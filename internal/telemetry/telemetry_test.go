package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "kokoro", "test", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// No-op providers still hand out usable instruments.
	counter, err := Meter("kokoro/test").Int64Counter("kokoro.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("kokoro/test").Start(context.Background(), "op")
	span.End()
}
