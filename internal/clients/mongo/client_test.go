package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithRepoTimeout(t *testing.T) {
	t.Run("adds a deadline when the parent has none", func(t *testing.T) {
		ctx, cancel := WithRepoTimeout(context.Background(), time.Second)
		defer cancel()

		dl, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), dl, 100*time.Millisecond)
	})

	t.Run("keeps a stricter parent deadline", func(t *testing.T) {
		parent, parentCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer parentCancel()

		ctx, cancel := WithRepoTimeout(parent, time.Minute)
		defer cancel()

		assert.Equal(t, parent, ctx, "the sooner deadline wins")
	})

	t.Run("passes through a canceled parent", func(t *testing.T) {
		parent, parentCancel := context.WithCancel(context.Background())
		parentCancel()

		ctx, cancel := WithRepoTimeout(parent, time.Second)
		defer cancel()

		assert.Equal(t, parent, ctx)
		assert.Error(t, ctx.Err())
	})
}

func TestShutdownWithoutInit(t *testing.T) {
	reset()
	defer reset()

	// Shutdown before (or after) Init must be a safe no-op
	assert.NoError(t, Shutdown(context.Background()))
	assert.NoError(t, Shutdown(context.Background()))
	assert.Nil(t, Client())
	assert.Nil(t, DB())
}
