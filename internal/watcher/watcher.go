// Package watcher polls the remote device source and publishes device state,
// availability and discovery documents to the message sink.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/resident-x/fireboard2mqtt/internal/availability"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/resident-x/fireboard2mqtt/internal/homeassistant"
	"github.com/resident-x/fireboard2mqtt/internal/topics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	// DefaultBaseInterval keeps one device list call per cycle under the
	// upstream limit of 200 requests per hour.
	DefaultBaseInterval = 20 * time.Second

	// DefaultIdleInterval is used while no device is online.
	DefaultIdleInterval = 60 * time.Second
)

var jsonProperties = &domain.PublishProperties{ContentType: "application/json"}

// State is the poll loop state.
type State int

const (
	StateIdle State = iota
	StateFetching
	StatePublishing
	StateSleeping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Config holds the poll loop settings.
type Config struct {
	DriveEnabled    bool
	FreshnessWindow time.Duration
	BaseInterval    time.Duration
	IdleInterval    time.Duration
}

// Interval returns the sleep before the next cycle given the number of
// online devices. Drive polling doubles the number of remote calls, so it
// doubles the base interval.
func (c Config) Interval(online int) time.Duration {
	if online == 0 {
		return c.IdleInterval
	}
	if c.DriveEnabled {
		return 2 * c.BaseInterval
	}
	return c.BaseInterval
}

// Status is a snapshot of the poll loop for the status API.
type Status struct {
	State         string     `json:"state"`
	OnlineDevices int        `json:"onlineDevices"`
	NextInterval  string     `json:"nextInterval"`
	Cycles        uint64     `json:"cycles"`
	LastCycle     *time.Time `json:"lastCycle,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

type driveAttributes struct {
	ModeType    string  `json:"modetype"`
	Setpoint    float64 `json:"setpoint"`
	TiedChannel int     `json:"tiedchannel"`
	LidPaused   bool    `json:"lid_paused"`
}

// Watcher is the poll loop. Only Status and the registry are safe to use
// from other goroutines while Run is active.
type Watcher struct {
	config    Config
	namer     topics.Namer
	source    domain.DeviceSource
	sink      domain.MessageSink
	discovery *homeassistant.AutoDiscovery
	registry  domain.Registry
	logger    zerolog.Logger
	now       func() time.Time

	online   int
	interval time.Duration

	mu     sync.RWMutex
	status Status
}

// New creates a watcher. Zero durations in cfg fall back to the defaults and
// a nil registry is replaced by an empty one.
func New(cfg Config, namer topics.Namer, source domain.DeviceSource, sink domain.MessageSink,
	discovery *homeassistant.AutoDiscovery, registry domain.Registry) *Watcher {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = availability.DefaultFreshnessWindow
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if registry == nil {
		registry = domain.NewDeviceRegistry()
	}

	w := &Watcher{
		config:    cfg,
		namer:     namer,
		source:    source,
		sink:      sink,
		discovery: discovery,
		registry:  registry,
		logger:    log.With().Str("component", "watcher").Logger(),
		now:       time.Now,
		interval:  cfg.Interval(0),
	}
	w.status = Status{State: StateIdle.String(), NextInterval: w.interval.String()}

	return w
}

// Registry returns the registry the watcher records published state in.
func (w *Watcher) Registry() domain.Registry {
	return w.registry
}

// NextInterval returns the sleep computed by the last successful cycle.
func (w *Watcher) NextInterval() time.Duration {
	return w.interval
}

// Status returns a snapshot of the poll loop.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.status.State = s.String()
	w.mu.Unlock()
}

func (w *Watcher) recordCycle(at time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.Cycles++
	w.status.LastCycle = &at
	w.status.OnlineDevices = w.online
	w.status.NextInterval = w.interval.String()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
}

// Init announces the bridge as online.
func (w *Watcher) Init(ctx context.Context) error {
	w.logger.Info().Str("topic", w.namer.BridgeAvailability()).Msg("Announcing bridge")
	return w.publish(ctx, w.namer.BridgeAvailability(), domain.AtLeastOnce, true, availability.Online)
}

// Run announces the bridge and polls until ctx is done. It only returns an
// error when the sink fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.setState(StateIdle)

	if err := w.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		if err := w.Update(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		w.setState(StateSleeping)
		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info().Msg("Poll loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Update runs one poll cycle. A failed device list fetch is logged and the
// cycle skipped with the previous interval kept. Sink failures are returned.
func (w *Watcher) Update(ctx context.Context) error {
	logger := w.logger.With().Str("cycle_id", uuid.NewString()).Logger()
	start := w.now()

	w.setState(StateFetching)
	devices, err := w.source.ListDevices(ctx)
	if err != nil {
		logger.Error().
			Err(err).
			Dur("next_interval", w.interval).
			Msg("Failed to fetch device list, skipping cycle")
		w.recordCycle(start, err)
		return nil
	}

	w.setState(StatePublishing)
	online := 0
	for i := range devices {
		deviceOnline, err := w.publishDevice(ctx, logger, &devices[i])
		if err != nil {
			return err
		}
		if deviceOnline {
			online++
		}
	}

	w.online = online
	w.interval = w.config.Interval(online)
	w.recordCycle(start, nil)

	logger.Info().
		Int("devices", len(devices)).
		Int("online", online).
		Dur("next_interval", w.interval).
		Msg("Poll cycle complete")
	w.logMemory(logger)

	return nil
}

// publishDevice publishes everything for one device and reports whether it is online.
func (w *Watcher) publishDevice(ctx context.Context, logger zerolog.Logger, d *domain.Device) (bool, error) {
	id := d.HardwareID
	online := availability.DeviceOnline(d, w.now(), w.config.FreshnessWindow)

	status := domain.DeviceStatus{
		HardwareID: id,
		UUID:       d.UUID,
		Title:      d.Title,
		Model:      d.Model,
		Version:    d.Version,
		Unit:       d.DegreeType.Unit(),
		Online:     online,
		LastLog:    d.DeviceLog.Date,
		UpdatedAt:  w.now(),
	}

	if err := w.publish(ctx, w.namer.DeviceAvailability(id), domain.AtLeastOnce, true, availability.Payload(online)); err != nil {
		return false, err
	}

	for _, doc := range w.discovery.Build(d) {
		payload, err := doc.Message.Payload()
		if err != nil {
			logger.Error().Err(err).Str("topic", doc.Topic).Msg("Failed to encode discovery document")
			continue
		}
		action := domain.Publish(doc.Topic, domain.AtMostOnce, true, payload).WithProperties(jsonProperties)
		if err := w.send(ctx, action); err != nil {
			return false, err
		}
	}

	if online {
		battery := domain.Percent(d.DeviceLog.BatteryFraction)
		status.Battery = &battery
		if err := w.publish(ctx, w.namer.Battery(id), domain.AtMostOnce, true, domain.FormatPercent(d.DeviceLog.BatteryFraction)); err != nil {
			return false, err
		}

		for _, ch := range d.Channels {
			chStatus, err := w.publishChannel(ctx, id, ch)
			if err != nil {
				return false, err
			}
			status.Channels = append(status.Channels, chStatus)
		}
	} else {
		status.Channels = lo.Map(d.Channels, func(ch domain.Channel, _ int) domain.ChannelStatus {
			return domain.ChannelStatus{Number: ch.Number, Label: ch.Label}
		})
	}

	if w.config.DriveEnabled {
		drive, err := w.publishDrive(ctx, logger, d)
		if err != nil {
			return false, err
		}
		status.Drive = drive
	} else if err := w.publish(ctx, w.namer.DriveAvailability(id), domain.AtMostOnce, true, availability.Offline); err != nil {
		return false, err
	}

	w.registry.Update(status)

	logger.Debug().
		Str("device", id).
		Bool("online", online).
		Int("channels", len(d.Channels)).
		Msg("Device published")

	return online, nil
}

func (w *Watcher) publishChannel(ctx context.Context, id string, ch domain.Channel) (domain.ChannelStatus, error) {
	online := availability.ChannelOnline(&ch)
	status := domain.ChannelStatus{Number: ch.Number, Label: ch.Label, Online: online}

	if err := w.publish(ctx, w.namer.ChannelAvailability(id, ch.Number), domain.AtLeastOnce, true, availability.Payload(online)); err != nil {
		return status, err
	}

	// A channel that never reported gets no state message at all.
	if !online {
		return status, nil
	}

	temp := ch.LastTemplog.Temp
	status.Temperature = &temp
	return status, w.publish(ctx, w.namer.ChannelState(id, ch.Number), domain.AtMostOnce, false, domain.FormatFloat(temp))
}

// publishDrive fetches and publishes the drive log of one device. On a fetch
// error nothing is published and the previously recorded drive status is kept.
func (w *Watcher) publishDrive(ctx context.Context, logger zerolog.Logger, d *domain.Device) (*domain.DriveStatus, error) {
	id := d.HardwareID
	driveLog, fetchErr := w.source.GetDriveLog(ctx, d.UUID)

	switch availability.Drive(driveLog, fetchErr) {
	case availability.DriveUnchanged:
		logger.Warn().Err(fetchErr).Str("device", id).Msg("Failed to fetch drive log, leaving drive state unchanged")
		if prev, ok := w.registry.Get(id); ok {
			return prev.Drive, nil
		}
		return nil, nil

	case availability.DriveOffline:
		return &domain.DriveStatus{}, w.publish(ctx, w.namer.DriveAvailability(id), domain.AtMostOnce, false, availability.Offline)
	}

	mode := driveLog.Mode()
	auto := mode == domain.DriveModeAuto

	setpoint := ""
	if auto {
		setpoint = domain.FormatFloat(driveLog.Setpoint)
	}

	attributes, err := json.Marshal(driveAttributes{
		ModeType:    mode.String(),
		Setpoint:    driveLog.Setpoint,
		TiedChannel: driveLog.TiedChannel,
		LidPaused:   driveLog.LidPaused,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode drive attributes: %w", err)
	}

	actions := []domain.Action{
		w.action(w.namer.DriveAvailability(id), availability.Online),
		w.action(w.namer.DriveState(id), domain.FormatPercent(driveLog.DrivePercent)),
		w.action(w.namer.DriveSetpoint(id), setpoint),
		w.action(w.namer.DriveSetpointAvailability(id), availability.Payload(auto)),
		w.action(w.namer.DriveLidPaused(id), availability.Switch(driveLog.LidPaused)),
		domain.Publish(w.namer.DriveAttributes(id), domain.AtMostOnce, false, attributes).WithProperties(jsonProperties),
		w.action(w.namer.DriveMode(id), mode.String()),
	}
	for _, action := range actions {
		if err := w.send(ctx, action); err != nil {
			return nil, err
		}
	}

	return &domain.DriveStatus{
		Online:      true,
		Mode:        mode.String(),
		Percent:     domain.Percent(driveLog.DrivePercent),
		Setpoint:    driveLog.Setpoint,
		LidPaused:   driveLog.LidPaused,
		TiedChannel: driveLog.TiedChannel,
	}, nil
}

// action builds a non-retained at-most-once drive publish.
func (w *Watcher) action(topic, payload string) domain.Action {
	return domain.Publish(topic, domain.AtMostOnce, false, []byte(payload))
}

func (w *Watcher) publish(ctx context.Context, topic string, qos domain.QoS, retain bool, payload string) error {
	return w.send(ctx, domain.Publish(topic, qos, retain, []byte(payload)))
}

func (w *Watcher) send(ctx context.Context, action domain.Action) error {
	if err := w.sink.Send(ctx, action); err != nil {
		return fmt.Errorf("failed to send %s %s: %w", action.Kind, action.Topic, err)
	}
	return nil
}

func (w *Watcher) logMemory(logger zerolog.Logger) {
	e := logger.Debug()
	if !e.Enabled() {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	e.Str("heap_alloc", humanize.Bytes(m.HeapAlloc)).
		Str("heap_sys", humanize.Bytes(m.HeapSys)).
		Uint32("gc_cycles", m.NumGC).
		Msg("Memory usage")
}
