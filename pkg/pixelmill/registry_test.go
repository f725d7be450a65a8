package pixelmill_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

func TestJobRegistry(t *testing.T) {
	registry := pixelmill.NewJobRegistry()

	t.Run("CancelInvokesHandle", func(t *testing.T) {
		id := uuid.New()
		ctx, cancel := context.WithCancel(context.Background())
		registry.Register(id, cancel)
		assert.Equal(t, 1, registry.Len())

		assert.True(t, registry.Cancel(id))
		assert.Error(t, ctx.Err(), "context should be cancelled")
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("CancelUnknownIsNoOp", func(t *testing.T) {
		assert.False(t, registry.Cancel(uuid.New()))
	})

	t.Run("RemoveReleasesHandle", func(t *testing.T) {
		id := uuid.New()
		ctx, cancel := context.WithCancel(context.Background())
		registry.Register(id, cancel)
		registry.Remove(id)

		assert.Error(t, ctx.Err(), "removal releases the run context")
		assert.False(t, registry.Cancel(id))
	})
}
