package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlot_ReplaceCancelsPrevious(t *testing.T) {
	l, _ := newFakeLoop()
	var slot Slot

	var fired []string
	slot.Schedule(l, 2*time.Second, "stop", func() { fired = append(fired, "first") })
	l.Advance(time.Second)
	slot.Schedule(l, 2*time.Second, "stop", func() { fired = append(fired, "second") })

	l.Advance(1500 * time.Millisecond)
	assert.Empty(t, fired, "first task was replaced")
	assert.Equal(t, 1, l.Pending(), "only one task outstanding")

	l.Advance(time.Second)
	assert.Equal(t, []string{"second"}, fired)
	assert.False(t, slot.Pending())
}

func TestSlot_DequeuedTaskThatLostSlotDoesNotRun(t *testing.T) {
	l, _ := newFakeLoop()
	var slot Slot

	var fired []string
	// Both fall due at the same instant; the first one to run replaces the
	// slot content, so the other, already due, must not fire.
	l.After(time.Second, "replace", func() {
		slot.Schedule(l, time.Second, "stop", func() { fired = append(fired, "new") })
	})
	slot.Schedule(l, time.Second, "stop", func() { fired = append(fired, "old") })

	l.Advance(time.Second)
	assert.Empty(t, fired)

	l.Advance(time.Second)
	assert.Equal(t, []string{"new"}, fired)
}

func TestSlot_Cancel(t *testing.T) {
	l, _ := newFakeLoop()
	var slot Slot

	assert.False(t, slot.Cancel(), "empty slot")

	ran := false
	slot.Schedule(l, time.Second, "stop", func() { ran = true })
	assert.True(t, slot.Pending())
	assert.True(t, slot.Cancel())
	assert.False(t, slot.Pending())

	l.Advance(2 * time.Second)
	assert.False(t, ran)
}

func TestSlot_RescheduleFromOwnCallback(t *testing.T) {
	l, _ := newFakeLoop()
	var slot Slot

	var n int
	var fn func()
	fn = func() {
		n++
		if n < 3 {
			slot.Schedule(l, time.Second, "again", fn)
		}
	}
	slot.Schedule(l, time.Second, "again", fn)

	l.Advance(10 * time.Second)
	assert.Equal(t, 3, n)
	assert.False(t, slot.Pending())
}
