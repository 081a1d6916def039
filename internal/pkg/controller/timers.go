package controller

import (
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/liveness"
)

// Every timer callback carries the sequence number it was armed with and
// returns without touching state once that number has moved on.

func (c *Controller) armWatchdogLocked() {
	c.stopWatchdogLocked()
	seq := c.watchdogSeq
	var tick func()
	tick = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || seq != c.watchdogSeq {
			return
		}
		switch c.tracker.Check(c.clock.Now()) {
		case liveness.WentStale, liveness.Silent:
			c.onStaleLocked()
			c.publishLocked()
			return
		}
		c.watchdog = c.clock.AfterFunc(c.cfg.PollInterval, tick)
	}
	c.watchdog = c.clock.AfterFunc(c.cfg.PollInterval, tick)
}

func (c *Controller) stopWatchdogLocked() {
	c.watchdogSeq++
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// setErrorLocked shows msg until ErrorDisplay elapses or a newer error or a
// successful connect replaces it.
func (c *Controller) setErrorLocked(msg string) {
	c.stopErrorTimerLocked()
	seq := c.errSeq
	c.state.Session.ConnectionError = msg
	c.staleShown = false
	c.errTimer = c.clock.AfterFunc(c.cfg.ErrorDisplay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.errSeq {
			return
		}
		c.errTimer = nil
		c.state.Session.ConnectionError = ""
		c.staleShown = false
		c.publishLocked()
	})
}

func (c *Controller) clearErrorLocked() {
	c.stopErrorTimerLocked()
	c.state.Session.ConnectionError = ""
	c.staleShown = false
}

func (c *Controller) stopErrorTimerLocked() {
	c.errSeq++
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
}

// scheduleReconnectLocked retries after ReconnectDelay when auto-reconnect
// is enabled and the user has not asked to disconnect.
func (c *Controller) scheduleReconnectLocked() {
	if !c.cfg.AutoReconnect || !c.wantConnected || c.closed {
		return
	}
	c.stopReconnectLocked()
	seq := c.reconnectSeq
	id := c.state.SelectedDeviceID
	c.reconnect = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || seq != c.reconnectSeq || !c.wantConnected || id != c.state.SelectedDeviceID {
			return
		}
		c.reconnect = nil
		if c.state.Session.IsConnected || c.state.Session.IsConnecting {
			return
		}
		ep, err := c.endpointLocked(id)
		if err != nil {
			c.logger.Warn("reconnect abandoned", zap.Error(err))
			return
		}
		c.logger.Info("reconnecting", zap.String("device", id))
		c.startLocked(id, ep)
		c.publishLocked()
	})
}

func (c *Controller) stopReconnectLocked() {
	c.reconnectSeq++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}
