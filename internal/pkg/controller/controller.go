package controller

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/clock"
	"github.com/anicoll/smart-canopy/internal/pkg/config"
	"github.com/anicoll/smart-canopy/internal/pkg/liveness"
	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/session"
	"github.com/anicoll/smart-canopy/internal/pkg/store"
	"github.com/anicoll/smart-canopy/internal/pkg/telemetry"
	"github.com/anicoll/smart-canopy/internal/pkg/topics"
)

const unknownDeviceName = "unknown"

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrUnknownDevice  = errors.New("unknown device")
)

// Controller is the only writer of the dashboard state. Every mutation
// happens under mu and is published to the store before mu is released.
type Controller struct {
	mu       sync.Mutex
	cfg      config.SessionConfig
	scheme   topics.Scheme
	clock    clock.Clock
	logger   *zap.Logger
	session  *session.Session
	tracker  *liveness.Tracker
	store    *store.Store[model.State]
	state    model.State
	fallback *session.Endpoint

	// sessionGen is the session generation whose events are accepted; zero
	// means none are.
	sessionGen    uint64
	activeDevice  string
	wantConnected bool
	lastFailureAt *time.Time
	staleShown    bool
	closed        bool

	watchdog     clock.Timer
	watchdogSeq  uint64
	errTimer     clock.Timer
	errSeq       uint64
	reconnect    clock.Timer
	reconnectSeq uint64
}

func WithClock(c clock.Clock) func(*Controller) {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

func WithLogger(l *zap.Logger) func(*Controller) {
	return func(ctl *Controller) {
		ctl.logger = l
	}
}

// WithDefaultEndpoint is used for devices whose descriptor has no endpoint.
func WithDefaultEndpoint(ep session.Endpoint) func(*Controller) {
	return func(ctl *Controller) {
		ctl.fallback = &ep
	}
}

func WithDevices(devices []model.DeviceDescriptor) func(*Controller) {
	return func(ctl *Controller) {
		ctl.state.Devices = append(ctl.state.Devices, devices...)
	}
}

func New(cfg config.SessionConfig, dial session.Dialer, opts ...func(*Controller)) *Controller {
	c := &Controller{
		cfg:    cfg,
		scheme: topics.Scheme{Prefix: cfg.TopicPrefix},
		clock:  clock.Real(),
		logger: zap.L(),
		state:  model.NewState(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.cfg.PollInterval <= 0 {
		c.cfg.PollInterval = time.Second
	}
	c.logger = c.logger.With(zap.String("component", "controller"))
	c.state.Devices = lo.UniqBy(c.state.Devices, func(d model.DeviceDescriptor) string { return d.ID })
	for _, d := range c.state.Devices {
		c.state.Statuses[d.ID] = model.DeviceRuntimeStatus{}
	}
	c.tracker = liveness.New(cfg.StalenessWindow)
	c.store = store.New(c.state.Clone(), model.State.Clone)
	c.session = session.New(dial, c.handleEvent,
		session.WithClock(c.clock),
		session.WithConnectTimeout(cfg.ConnectTimeout),
		session.WithLogger(c.logger),
	)
	return c
}

func (c *Controller) State() model.State {
	return c.store.Get()
}

// Subscribe streams state snapshots, newest first; see store.Store.
func (c *Controller) Subscribe() (<-chan model.State, func()) {
	ch, cancel := c.store.Subscribe()
	c.logger.Debug("state subscriber added", zap.Int("subscribers", c.store.Subscribers()))
	return ch, cancel
}

// SetSelectedDevice switches the monitored device. An empty id clears the
// selection. The new device is not connected automatically.
func (c *Controller) SetSelectedDevice(id string) error {
	if id != "" {
		if err := topics.Validate(id); err != nil {
			return fmt.Errorf("%w: %q", err, id)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || id == c.state.SelectedDeviceID {
		return nil
	}

	prev := c.state.SelectedDeviceID
	c.wantConnected = false
	c.teardownLocked()
	c.clearErrorLocked()
	c.tracker.Reset()
	c.syncStatusLocked(prev)
	c.state.Session = model.SessionStatus{}
	c.state.Telemetry = model.EmptySnapshot()
	c.state.SelectedDeviceID = id
	c.lastFailureAt = nil
	if id != "" {
		if _, ok := c.state.Device(id); !ok {
			c.state.Devices = append(c.state.Devices, model.DeviceDescriptor{ID: id, DisplayName: unknownDeviceName})
		}
		c.syncStatusLocked(id)
	}

	c.logger.Info("selected device", zap.String("previous", prev), zap.String("device", id))
	c.publishLocked()
	return nil
}

// Connect opens a session for the selected device. It does nothing while a
// session is connecting or connected.
func (c *Controller) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.SelectedDeviceID == "" {
		return
	}
	if c.state.Session.IsConnected || c.state.Session.IsConnecting {
		return
	}

	if remaining := c.cooldownLocked(); remaining > 0 {
		secs := int(math.Ceil(remaining.Seconds()))
		c.setErrorLocked(fmt.Sprintf("please wait %ds before retrying", secs))
		c.publishLocked()
		return
	}

	ep, err := c.endpointLocked(c.state.SelectedDeviceID)
	if err != nil {
		c.setErrorLocked(err.Error())
		c.publishLocked()
		return
	}

	c.wantConnected = true
	c.startLocked(c.state.SelectedDeviceID, ep)
	c.publishLocked()
}

// Disconnect always succeeds, whatever the current state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wantConnected = false
	c.teardownLocked()
	c.clearErrorLocked()
	c.resetDeviceLocked()
	c.state.Session = model.SessionStatus{}
	c.logger.Info("disconnected", zap.String("device", c.state.SelectedDeviceID))
	c.publishLocked()
}

// PublishMode sends a mode command. It reports false without error when the
// command was dropped because the device is not live.
func (c *Controller) PublishMode(mode model.Mode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: mode %q", ErrInvalidCommand, mode)
	}
	return c.sendCommand(command{
		name:   "mode " + mode.String(),
		topic:  func(t topics.Topics) string { return t.CommandMode },
		encode: func(id string) ([]byte, error) { return telemetry.EncodeModeCommand(id, mode) },
		retain: true,
		apply:  func(s *model.TelemetrySnapshot) { s.Mode = mode },
	}), nil
}

func (c *Controller) PublishServo(cmd model.ServoCommand) (bool, error) {
	if !cmd.Valid() {
		return false, fmt.Errorf("%w: servo %q", ErrInvalidCommand, cmd)
	}
	return c.sendCommand(command{
		name:   "servo " + cmd.String(),
		topic:  func(t topics.Topics) string { return t.CommandServo },
		encode: func(id string) ([]byte, error) { return telemetry.EncodeServoCommand(id, cmd) },
		apply:  func(s *model.TelemetrySnapshot) { s.ServoState = cmd.State() },
	}), nil
}

// UpdateDevices merges a directory listing by id. Descriptors are replaced
// while runtime status survives; devices absent from the listing are kept.
func (c *Controller) UpdateDevices(devices []model.DeviceDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	incoming := lo.UniqBy(lo.Filter(devices, func(d model.DeviceDescriptor, _ int) bool {
		return topics.Validate(d.ID) == nil
	}), func(d model.DeviceDescriptor) string { return d.ID })
	byID := lo.KeyBy(incoming, func(d model.DeviceDescriptor) string { return d.ID })

	merged := lo.Map(c.state.Devices, func(d model.DeviceDescriptor, _ int) model.DeviceDescriptor {
		if next, ok := byID[d.ID]; ok {
			return next
		}
		return d
	})
	for _, d := range incoming {
		if _, ok := c.state.Device(d.ID); !ok {
			merged = append(merged, d)
		}
		if _, ok := c.state.Statuses[d.ID]; !ok {
			c.state.Statuses[d.ID] = model.DeviceRuntimeStatus{}
		}
	}
	c.state.Devices = merged
	c.logger.Debug("devices updated", zap.Int("received", len(devices)), zap.Int("known", len(merged)))
	c.publishLocked()
}

// Close releases the session and every timer. The controller is unusable
// afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wantConnected = false
	c.teardownLocked()
	c.clearErrorLocked()
	c.closed = true
}

func (c *Controller) handleEvent(ev session.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ev.Generation != c.sessionGen {
		c.logger.Debug("dropping superseded event",
			zap.Stringer("kind", ev.Kind),
			zap.Uint64("generation", ev.Generation),
			zap.Uint64("current", c.sessionGen))
		return
	}

	switch ev.Kind {
	case session.EventConnecting:
		return
	case session.EventConnected:
		c.onConnectedLocked()
	case session.EventMessage:
		if !c.onMessageLocked(ev) {
			return
		}
	case session.EventError:
		c.onFailureLocked(ev.Err)
	case session.EventClosed:
		c.onClosedLocked(ev.Reason)
	}
	c.publishLocked()
}

func (c *Controller) onConnectedLocked() {
	now := c.clock.Now()
	c.state.Session = model.SessionStatus{IsConnected: true, LastConnectedAt: &now}
	c.clearErrorLocked()
	c.lastFailureAt = nil
	c.tracker.Connected(now)
	c.syncStatusLocked(c.activeDevice)

	c.armWatchdogLocked()
	c.logger.Info("session connected", zap.String("device", c.activeDevice), zap.Uint64("generation", c.sessionGen))
}

func (c *Controller) onMessageLocked(ev session.Event) bool {
	id, ok := c.scheme.DeviceFromTelemetry(ev.Topic)
	if !ok || id != c.activeDevice {
		c.logger.Debug("ignoring message on foreign topic", zap.String("topic", ev.Topic))
		return false
	}
	reading, err := telemetry.Decode(ev.Payload)
	if err != nil {
		c.logger.Debug("dropping malformed telemetry", zap.String("topic", ev.Topic), zap.Error(err))
		return false
	}
	if reading.DeviceKey != "" && reading.DeviceKey != id {
		c.logger.Debug("ignoring telemetry for another device", zap.String("device_key", reading.DeviceKey))
		return false
	}

	if c.tracker.Observe(ev.ReceivedAt) {
		if c.staleShown {
			c.clearErrorLocked()
		}
		if c.watchdog == nil {
			c.armWatchdogLocked()
		}
	}
	c.syncStatusLocked(id)
	c.state.Telemetry = c.state.Telemetry.Merge(reading)
	return true
}

func (c *Controller) onFailureLocked(err error) {
	msg := "connection error"
	if err != nil {
		msg = err.Error()
	}
	c.logger.Warn("session failed", zap.String("device", c.activeDevice), zap.Error(err))

	c.teardownLocked()
	c.resetDeviceLocked()
	c.state.Session.IsConnected = false
	c.state.Session.IsConnecting = false
	now := c.clock.Now()
	c.lastFailureAt = &now
	c.setErrorLocked(msg)
	c.scheduleReconnectLocked()
}

func (c *Controller) onClosedLocked(reason string) {
	c.logger.Info("session closed", zap.String("device", c.activeDevice), zap.String("reason", reason))

	c.teardownLocked()
	c.resetDeviceLocked()
	c.state.Session.IsConnected = false
	c.state.Session.IsConnecting = false
	c.scheduleReconnectLocked()
}

// onStaleLocked demotes the device once the watchdog finds it quiet. The
// last seen time is kept so the dashboard can show when data stopped.
func (c *Controller) onStaleLocked() {
	dev := c.activeDevice
	c.syncStatusLocked(dev)
	c.state.Telemetry = model.EmptySnapshot()
	c.stopWatchdogLocked()

	msg := fmt.Sprintf("no telemetry received for %s", c.tracker.Window())
	c.logger.Warn("device went stale", zap.String("device", dev), zap.String("policy", c.cfg.StalenessPolicy))

	if c.cfg.StalenessPolicy == config.PolicyTeardown {
		c.teardownLocked()
		c.state.Session.IsConnected = false
		c.state.Session.IsConnecting = false
		c.setErrorLocked(msg)
		c.scheduleReconnectLocked()
		return
	}
	c.setErrorLocked(msg)
	c.staleShown = true
}

func (c *Controller) startLocked(id string, ep session.Endpoint) {
	c.stopReconnectLocked()
	gen, started := c.session.Open(ep)
	if !started {
		c.logger.Warn("session already open", zap.Uint64("generation", gen))
	}
	c.sessionGen = gen
	c.activeDevice = id
	c.tracker.Connecting()
	c.syncStatusLocked(id)
	if err := c.session.Subscribe(c.scheme.For(id).Telemetry); err != nil {
		c.logger.Error("subscribing telemetry", zap.Error(err))
	}
	c.state.Session.IsConnected = false
	c.state.Session.IsConnecting = true
	c.logger.Info("connecting", zap.String("device", id), zap.String("endpoint", ep.URL), zap.Uint64("generation", gen))
}

// teardownLocked is the single exit path for a session: it stops every
// session-bound timer, forgets the generation and closes the transport.
// Device liveness is left to the caller.
func (c *Controller) teardownLocked() {
	c.sessionGen = 0
	c.activeDevice = ""
	c.stopWatchdogLocked()
	c.stopReconnectLocked()
	if err := c.session.Close(); err != nil {
		c.logger.Debug("closing session", zap.Error(err))
	}
}

func (c *Controller) resetDeviceLocked() {
	c.tracker.Reset()
	c.syncStatusLocked(c.state.SelectedDeviceID)
	c.state.Telemetry = model.EmptySnapshot()
}

// syncStatusLocked copies the tracker's view into the runtime status of id.
func (c *Controller) syncStatusLocked(id string) {
	if id == "" {
		return
	}
	st := c.tracker.Status()
	c.state.Statuses[id] = model.DeviceRuntimeStatus{
		IsConnected:       st.DeviceLive,
		AwaitingTelemetry: st.Awaiting,
		LastSeenAt:        st.LastMessageAt,
	}
}

func (c *Controller) canCommandLocked() bool {
	id := c.state.SelectedDeviceID
	return id != "" &&
		id == c.activeDevice &&
		c.state.Session.IsConnected &&
		c.tracker.Phase() == liveness.Live
}

type command struct {
	name   string
	topic  func(topics.Topics) string
	encode func(deviceID string) ([]byte, error)
	retain bool
	apply  func(*model.TelemetrySnapshot)
}

// sendCommand publishes without holding mu so a slow broker acknowledgement
// cannot stall event delivery or the watchdog. The snapshot is only updated
// when the session that carried the command is still current.
func (c *Controller) sendCommand(cmd command) bool {
	c.mu.Lock()
	if !c.canCommandLocked() {
		c.mu.Unlock()
		c.logger.Debug("dropping command", zap.String("command", cmd.name))
		return false
	}
	id, gen := c.activeDevice, c.sessionGen
	c.mu.Unlock()

	payload, err := cmd.encode(id)
	if err != nil {
		c.logger.Error("encoding command", zap.String("command", cmd.name), zap.Error(err))
		return false
	}
	topic := cmd.topic(c.scheme.For(id))
	if err := c.session.Publish(gen, topic, payload, session.PublishOptions{Retain: cmd.retain}); err != nil {
		c.logger.Warn("publishing command", zap.String("topic", topic), zap.Error(err))
		return false
	}
	c.logger.Info("command sent", zap.String("topic", topic), zap.String("command", cmd.name))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.sessionGen {
		c.logger.Debug("session changed while publishing", zap.Uint64("generation", gen))
		return true
	}
	cmd.apply(&c.state.Telemetry)
	c.publishLocked()
	return true
}

func (c *Controller) endpointLocked(id string) (session.Endpoint, error) {
	d, ok := c.state.Device(id)
	if !ok {
		return session.Endpoint{}, fmt.Errorf("%w %q", ErrUnknownDevice, id)
	}
	if d.Endpoint != "" {
		return session.Endpoint{URL: d.Endpoint, Credentials: d.Credentials}, nil
	}
	if c.fallback != nil {
		return *c.fallback, nil
	}
	return session.Endpoint{}, fmt.Errorf("%w %q: no endpoint", ErrUnknownDevice, id)
}

func (c *Controller) cooldownLocked() time.Duration {
	if c.lastFailureAt == nil || c.cfg.RetryCooldown <= 0 {
		return 0
	}
	return c.cfg.RetryCooldown - c.clock.Now().Sub(*c.lastFailureAt)
}

func (c *Controller) publishLocked() {
	c.store.Set(c.state.Clone())
}
