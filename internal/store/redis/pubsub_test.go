package redis_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	redisstore "github.com/gosuda/chatgate/internal/store/redis"
)

func TestSessionChannel(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
		got := redisstore.SessionChannel(sessionID)
		assert.Equal(t, "session:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", got)
	})

	t.Run("nil uuid", func(t *testing.T) {
		t.Parallel()

		got := redisstore.SessionChannel(uuid.Nil)
		assert.Equal(t, "session:00000000-0000-0000-0000-000000000000", got)
	})

	t.Run("distinct sessions get distinct channels", func(t *testing.T) {
		t.Parallel()

		a := redisstore.SessionChannel(uuid.New())
		b := redisstore.SessionChannel(uuid.New())
		assert.NotEqual(t, a, b)
		assert.True(t, strings.HasPrefix(a, "session:"))
	})
}

func TestDispatchChannel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dispatch:tasks", redisstore.DispatchChannel())
	assert.NotEqual(t, redisstore.DispatchChannel(), redisstore.SessionChannel(uuid.Nil),
		"dispatch traffic never lands on a session channel")
}
