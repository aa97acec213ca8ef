package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_AddAndListFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Add(KindInfo, "first", 0)
	q.Add(KindWarning, "second", 0)

	items := q.List()
	require := assert.New(t)
	require.Len(items, 2)
	require.Equal("first", items[0].Message)
	require.Equal("second", items[1].Message)
}

func TestQueue_DismissRemovesByID(t *testing.T) {
	q := NewQueue()
	id := q.Add(KindTip, "dismiss me", 0)
	q.Add(KindInfo, "keep me", 0)

	assert.True(t, q.Dismiss(id))
	items := q.List()
	assert.Len(t, items, 1)
	assert.Equal(t, "keep me", items[0].Message)
}

func TestQueue_DismissUnknownIDReturnsFalse(t *testing.T) {
	q := NewQueue()
	assert.False(t, q.Dismiss(999))
}

func TestQueue_DoesNotSurviveRestartByDesign(t *testing.T) {
	q1 := NewQueue()
	q1.Add(KindAction, "act now", 0)
	q2 := NewQueue()
	assert.Empty(t, q2.List())
}
