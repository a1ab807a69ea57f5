package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	s := Settings{ServiceName: "turno", Version: "test"}
	assert.False(t, s.Enabled())

	shutdown, err := Init(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNoopInstrumentsUsable(t *testing.T) {
	ctx := context.Background()
	c, err := Meter("turno/test").Int64Counter("turno.test.count")
	require.NoError(t, err)
	c.Add(ctx, 1)

	_, span := Tracer("turno/test").Start(ctx, "op")
	span.End()
}
