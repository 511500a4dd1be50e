package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsUsable(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false, ServiceVersion: "test"})
	require.NoError(t, err)

	// Instruments must be safe to record on even with no exporter.
	ctx := context.Background()
	p.RecordAppend(ctx, "global", 2)
	p.RecordProjected(ctx, "capsule.created")
	p.RecordDeadLetter(ctx, "target missing")
	p.RecordHTTP(ctx, "/capsules", 201, 3*time.Millisecond)

	assert.NoError(t, p.Shutdown(ctx))
}

func TestNilConfigDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Meter())
}
