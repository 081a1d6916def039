package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := Fake(epoch)
	var fired []string
	var at []time.Time

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "b"); at = append(at, c.Now()) })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a"); at = append(at, c.Now()) })
	c.AfterFunc(10*time.Second, func() { fired = append(fired, "c") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(3 * time.Second)}, at)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFakeAdvanceWaitsForCallbacks(t *testing.T) {
	c := Fake(epoch)
	done := false
	c.AfterFunc(time.Second, func() {
		time.Sleep(20 * time.Millisecond)
		done = true
	})

	c.Advance(time.Second)
	assert.True(t, done, "callback finished before Advance returned")
}

func TestFakeStop(t *testing.T) {
	c := Fake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStopAfterFire(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFakeRearmWithinAdvance(t *testing.T) {
	c := Fake(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(2*time.Second, tick)
	}
	c.AfterFunc(2*time.Second, tick)

	c.Advance(7 * time.Second)

	assert.Equal(t, 3, ticks)
	assert.Equal(t, 1, c.Pending())
}

func TestFakeCallbackMayStopOthers(t *testing.T) {
	c := Fake(epoch)
	called := false
	var second Timer
	c.AfterFunc(time.Second, func() { second.Stop() })
	second = c.AfterFunc(2*time.Second, func() { called = true })

	c.Advance(3 * time.Second)
	assert.False(t, called)
}
