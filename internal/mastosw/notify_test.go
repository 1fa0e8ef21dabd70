package mastosw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationCenter_TagReplaces(t *testing.T) {
	c := NewNotificationCenter()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	require.NoError(t, c.Show(ctx, Notification{Title: "first", Tag: "5"}))
	require.NoError(t, c.Show(ctx, Notification{Title: "other", Tag: "6"}))
	require.NoError(t, c.Show(ctx, Notification{Title: "second", Tag: "5"}))
	require.NoError(t, c.Show(ctx, Notification{Title: "untagged"}))

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"other", "second", "untagged"}, []string{list[0].Title, list[1].Title, list[2].Title})
	assert.NotEmpty(t, list[2].Tag)

	assert.True(t, c.Close("5"))
	assert.False(t, c.Close("5"))
	_, ok := c.Get("5")
	assert.False(t, ok)
}
