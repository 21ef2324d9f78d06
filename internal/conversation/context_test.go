package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T, c *Context) {
	t.Helper()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return ts }
}

func TestNew(t *testing.T) {
	t.Run("with system prompt", func(t *testing.T) {
		c := New("be brief", 5)
		require.Equal(t, 1, c.Len())
		assert.Equal(t, RoleSystem, c.Messages()[0].Role)
		assert.Equal(t, "be brief", c.SystemPrompt())
	})

	t.Run("without system prompt", func(t *testing.T) {
		c := New("", 5)
		assert.Zero(t, c.Len())
		assert.Empty(t, c.SystemPrompt())
	})

	t.Run("non-positive limit uses default", func(t *testing.T) {
		c := New("", 0)
		assert.Equal(t, DefaultMaxHistory, c.MaxHistory())
	})
}

func TestContext_TrimExample(t *testing.T) {
	c := New("system", 3)
	c.AppendUser("u1")
	c.AppendAssistant("a1")
	c.AppendUser("u2")
	c.AppendAssistant("a2")

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "u2", msgs[1].Content)
	assert.Equal(t, "a2", msgs[2].Content)
}

func TestContext_TrimInvariant(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7, 20} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			c := New("system", max)
			for i := 0; i < 50; i++ {
				if i%2 == 0 {
					c.AppendUser(fmt.Sprintf("u%d", i))
				} else {
					c.AppendAssistant(fmt.Sprintf("a%d", i))
				}
				require.LessOrEqual(t, c.Len(), max)
				require.Equal(t, "system", c.SystemPrompt(), "system message evicted after append %d", i)
			}
		})
	}
}

func TestContext_TrimWithoutSystem(t *testing.T) {
	c := New("", 2)
	c.AppendUser("u1")
	c.AppendAssistant("a1")
	c.AppendUser("u2")

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a1", msgs[0].Content)
	assert.Equal(t, "u2", msgs[1].Content)
}

func TestContext_SystemInsertedLaterIsKept(t *testing.T) {
	c := New("", 3)
	c.AppendUser("u1")
	c.AppendAssistant("a1")
	c.SetSystemPrompt("late")
	c.AppendUser("u2")
	c.AppendAssistant("a2")

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Role: RoleSystem, Content: "late", Timestamp: msgs[0].Timestamp}, msgs[0])
	assert.Equal(t, "u2", msgs[1].Content)
	assert.Equal(t, "a2", msgs[2].Content)
}

func TestContext_SetSystemPromptReplacesInPlace(t *testing.T) {
	c := New("old", 10)
	c.AppendUser("hello")
	c.SetSystemPrompt("new")

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "new", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestContext_Snapshot(t *testing.T) {
	c := New("system", 10)
	fixedClock(t, c)
	c.AppendUser("first")
	c.AppendAssistant("reply")
	c.AppendUser("second")

	t.Run("full history", func(t *testing.T) {
		snap := c.Snapshot(true, "second")
		require.Len(t, snap, 4)
		assert.Equal(t, "second", snap[3].Content)

		snap[0].Content = "mutated"
		assert.Equal(t, "system", c.SystemPrompt(), "snapshot must be a copy")
	})

	t.Run("stateless", func(t *testing.T) {
		snap := c.Snapshot(false, "second")
		require.Len(t, snap, 2)
		assert.Equal(t, RoleSystem, snap[0].Role)
		assert.Equal(t, Message{Role: RoleUser, Content: "second", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix()}, snap[1])
	})

	t.Run("stateless without system prompt", func(t *testing.T) {
		bare := New("", 10)
		snap := bare.Snapshot(false, "hi")
		require.Len(t, snap, 1)
		assert.Equal(t, RoleUser, snap[0].Role)
	})
}

func TestContext_Clear(t *testing.T) {
	c := New("system", 10)
	c.AppendUser("u")
	c.AppendAssistant("a")
	c.Clear()

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleSystem, msgs[0].Role)

	bare := New("", 10)
	bare.AppendUser("u")
	bare.Clear()
	assert.Zero(t, bare.Len())
}
