package logger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fencepost/ratelimit/pkg/logger"
)

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("nil error returns empty attr", func(t *testing.T) {
		t.Parallel()

		attr := logger.Error(nil)
		assert.Empty(t, attr.Key)
	})

	t.Run("error attr", func(t *testing.T) {
		t.Parallel()

		err := errors.New("boom")
		attr := logger.Error(err)
		assert.Equal(t, "error", attr.Key)
		assert.Equal(t, err, attr.Value.Any())
	})
}

func TestComponent(t *testing.T) {
	t.Parallel()

	attr := logger.Component("ratelimiter")
	assert.Equal(t, "component", attr.Key)
	assert.Equal(t, "ratelimiter", attr.Value.String())
}

func TestDuration(t *testing.T) {
	t.Parallel()

	attr := logger.Duration(250 * time.Millisecond)
	assert.Equal(t, "duration", attr.Key)
	assert.Equal(t, 250*time.Millisecond, attr.Value.Duration())
}

func TestElapsed(t *testing.T) {
	t.Parallel()

	attr := logger.Elapsed(time.Now().Add(-time.Second))
	assert.Equal(t, "elapsed", attr.Key)
	assert.GreaterOrEqual(t, attr.Value.Duration(), time.Second)
}

func TestOwnerID(t *testing.T) {
	t.Parallel()

	attr := logger.OwnerID("user:1")
	assert.Equal(t, "owner_id", attr.Key)
	assert.Equal(t, "user:1", attr.Value.String())
}
