// Package alarmdecoder speaks the line-oriented protocol of the AlarmDecoder
// (AD2) family of security-panel interfaces and maintains a live, queryable
// model of the attached alarm system: panel status, keypad text and
// individual zone fault state. The same behavioral contract holds over every
// transport in the device package.
package alarmdecoder

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nutechsoftware/alarmdecoder/device"
	"github.com/nutechsoftware/alarmdecoder/event"
	"github.com/nutechsoftware/alarmdecoder/internal/log"
	"github.com/nutechsoftware/alarmdecoder/protocol"
	"github.com/nutechsoftware/alarmdecoder/zonetracker"
)

const (
	defaultReadTimeout   = 1 * time.Second
	defaultSweepInterval = 1 * time.Minute

	// Minimum spacing between automatic '*' keypresses used to make the
	// panel enumerate its faulted zones.
	faultExpansionInterval = 30 * time.Second
)

// Config holds the session options recognized by New. The zero value is
// usable: ADEMCO dialect, 1s read timeout, default expiry policy.
type Config struct {
	// Mode selects the built-in panel dialect.
	Mode protocol.Mode

	// Dialect, when non-nil, overrides the built-in dialect for Mode.
	Dialect *protocol.Dialect

	// ReadTimeout bounds each transport read so the loop can run periodic
	// housekeeping while the line is idle.
	ReadTimeout time.Duration

	// SweepInterval is how often the zone tracker's expiry sweep runs.
	SweepInterval time.Duration

	// MaxLineLength bounds the framer's partial-line buffer.
	MaxLineLength int

	// Expiry, when non-nil, overrides the tracker's default expiry policy.
	Expiry *zonetracker.ExpiryPolicy

	// RFZones maps RF transmitter serial numbers to zone numbers.
	RFZones map[string]int

	// AddressMask filters keypad messages by destination address. Zero
	// means all addresses.
	AddressMask uint32
}

// PanelState is the top-level state of the monitored system. Snapshots are
// complete and consistent: the read loop publishes a whole struct per
// update, never field by field.
type PanelState struct {
	Ready              bool
	ArmedAway          bool
	ArmedStay          bool
	AlarmSounding      bool
	AlarmEventOccurred bool
	FireAlarm          bool
	ZoneBypassed       bool
	ProgrammingMode    bool
	ACPower            bool
	ChimeOn            bool
	BatteryLow         bool
	EntryDelayOff      bool
	PerimeterOnly      bool
	ExitDelay          bool

	Beeps       int
	KeypadText  string
	LastMessage time.Time
}

func (s PanelState) equalIgnoringTime(o PanelState) bool {
	s.LastMessage = time.Time{}
	o.LastMessage = time.Time{}
	return s == o
}

// VersionInfo holds what the AD2 device reported about itself via !VER and
// !CONFIG.
type VersionInfo struct {
	SerialNumber  string
	Version       string
	Flags         string
	KeypadAddress int
	ConfigBits    uint16
	AddressMask   uint32
	Mode          protocol.Mode
}

// RelayAddress identifies a relay channel on an expander board.
type RelayAddress struct {
	Address int
	Channel int
}

type runState int32

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

// AlarmDecoder is an alarm session: it owns a Transport, runs the background
// read loop that feeds framer, decoder and zone tracker, and exposes the
// event and command surface. PanelState and the tracker are mutated only on
// the read-loop goroutine; commands and snapshot reads are safe from any
// goroutine.
type AlarmDecoder struct {
	cfg        Config
	log        *log.Logger
	transport  device.Transport
	dispatcher *event.Dispatcher
	decoder    *protocol.Decoder
	framer     *protocol.Framer
	tracker    *zonetracker.Tracker

	readTimeout   time.Duration
	sweepInterval time.Duration
	addressMask   uint32

	run  atomic.Int32
	stop chan struct{}
	done chan struct{}

	writeMu sync.Mutex

	closeMu         sync.Mutex
	transportClosed bool

	stateMu sync.Mutex
	panel   PanelState
	version VersionInfo
	relays  map[RelayAddress]int

	// Touched only on the read-loop goroutine.
	lastFaultExpansion time.Time
}

// New creates a session over the given transport. The transport must be
// unopened; Open acquires it. A nil logger disables logging.
func New(transport device.Transport, cfg Config, logger *log.Logger) *AlarmDecoder {
	if logger == nil {
		logger = log.Nop()
	}

	dialect := protocol.ForMode(cfg.Mode)
	if cfg.Dialect != nil {
		dialect = *cfg.Dialect
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	mask := cfg.AddressMask
	if mask == 0 {
		mask = 0xFFFFFFFF
	}

	trackerOpts := []zonetracker.Option{zonetracker.WithLogger(logger)}
	if cfg.Expiry != nil {
		trackerOpts = append(trackerOpts, zonetracker.WithExpiryPolicy(*cfg.Expiry))
	}
	if len(cfg.RFZones) > 0 {
		trackerOpts = append(trackerOpts, zonetracker.WithRFZones(cfg.RFZones))
	}

	return &AlarmDecoder{
		cfg:           cfg,
		log:           logger,
		transport:     transport,
		dispatcher:    event.NewDispatcher(logger),
		decoder:       protocol.NewDecoder(dialect),
		framer:        protocol.NewFramer(cfg.MaxLineLength),
		tracker:       zonetracker.New(dialect, trackerOpts...),
		readTimeout:   readTimeout,
		sweepInterval: sweepInterval,
		addressMask:   mask,
		relays:        make(map[RelayAddress]int),
	}
}

// Subscribe attaches a handler to an event topic. See the event package for
// the topic set.
func (a *AlarmDecoder) Subscribe(topic event.Topic, h event.Handler) *event.Subscription {
	return a.dispatcher.Subscribe(topic, h)
}

// Open acquires the transport and starts the background read loop. It fails
// with a *ConnectionError when the transport cannot be acquired; the session
// may then be opened again. After a Close, Open establishes a fresh
// connection.
func (a *AlarmDecoder) Open() error {
	switch runState(a.run.Load()) {
	case stateRunning, stateStopping:
		return fmt.Errorf("alarmdecoder: session already open")
	}

	if err := a.transport.Open(); err != nil {
		return &ConnectionError{Err: err}
	}

	a.closeMu.Lock()
	a.transportClosed = false
	a.closeMu.Unlock()

	a.framer.Reset()
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.run.Store(int32(stateRunning))

	a.log.Info("Opened %s", a.transport)
	a.dispatcher.Publish(event.TopicOpen, a.transport.String())

	// Ask the device for its configuration and version, the way the
	// original firmware tooling does on attach.
	if err := a.SendCommand("C"); err != nil {
		a.log.Warning("Failed to request device config: %v", err)
	}
	if err := a.SendCommand("V"); err != nil {
		a.log.Warning("Failed to request device version: %v", err)
	}

	go a.readLoop()
	return nil
}

// Close stops the read loop and releases the transport. It blocks until the
// loop has exited, so no events fire after Close returns. Close is
// idempotent, including while another Close is already stopping the loop.
func (a *AlarmDecoder) Close() error {
	if runState(a.run.Load()) == stateIdle {
		return nil
	}

	if a.run.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		close(a.stop)
	}

	// The loop closes done on every exit path, including transport errors.
	<-a.done

	a.closeTransport()
	return nil
}

// Send writes raw keypresses to the panel. Keys go out verbatim: the AD2
// forwards them unframed. It does not wait for any panel response.
func (a *AlarmDecoder) Send(keys string) error {
	return a.write([]byte(keys))
}

// SendCommand writes one device-directed command line, CR-terminated.
func (a *AlarmDecoder) SendCommand(cmd string) error {
	return a.write([]byte(cmd + "\r"))
}

// ArmAway arms the panel in away mode using the given user code.
func (a *AlarmDecoder) ArmAway(code string) error {
	return a.Send(code + "2")
}

// ArmStay arms the panel in stay mode using the given user code.
func (a *AlarmDecoder) ArmStay(code string) error {
	return a.Send(code + "3")
}

// Disarm disarms the panel using the given user code.
func (a *AlarmDecoder) Disarm(code string) error {
	return a.Send(code + "1")
}

// FaultZone faults an emulated zone. wireFault simulates a wiring problem
// instead of an open zone.
func (a *AlarmDecoder) FaultZone(zone int, wireFault bool) error {
	status := 1
	if wireFault {
		status = 2
	}
	return a.SendCommand(fmt.Sprintf("L%02d%d", zone, status))
}

// ClearZone clears an emulated zone.
func (a *AlarmDecoder) ClearZone(zone int) error {
	return a.SendCommand(fmt.Sprintf("L%02d0", zone))
}

// Reboot restarts the AD2 device.
func (a *AlarmDecoder) Reboot() error {
	return a.Send("=")
}

// Snapshot returns a consistent copy of the current panel state.
func (a *AlarmDecoder) Snapshot() PanelState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.panel
}

// VersionInfo returns what the device has reported about itself so far.
func (a *AlarmDecoder) VersionInfo() VersionInfo {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.version
}

// Zones returns a snapshot of every tracked zone.
func (a *AlarmDecoder) Zones() []zonetracker.Zone {
	return a.tracker.Zones()
}

// Zone returns a snapshot of one tracked zone.
func (a *AlarmDecoder) Zone(id int) (zonetracker.Zone, bool) {
	return a.tracker.Zone(id)
}

// Relays returns a snapshot of the last reported relay values.
func (a *AlarmDecoder) Relays() map[RelayAddress]int {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	out := make(map[RelayAddress]int, len(a.relays))
	for k, v := range a.relays {
		out[k] = v
	}
	return out
}

func (a *AlarmDecoder) write(p []byte) error {
	if runState(a.run.Load()) != stateRunning {
		return ErrNotOpen
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if _, err := a.transport.Write(p); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

func (a *AlarmDecoder) closeTransport() {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.transportClosed {
		return
	}
	a.transportClosed = true
	if err := a.transport.Close(); err != nil {
		a.log.Warning("Failed to close transport: %v", err)
	}
}

// readLoop is the session's single consumer goroutine: every decode, zone
// update and event publication happens here, giving one consistent ordering
// of state transitions and notifications per session.
func (a *AlarmDecoder) readLoop() {
	var closeErr error
	defer func() {
		a.closeTransport()
		a.run.Store(int32(stateStopped))
		a.dispatcher.Publish(event.TopicClose, closeErr)
		close(a.done)
	}()

	buf := make([]byte, 512)
	lastSweep := time.Now()

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		n, err := a.transport.Read(buf, a.readTimeout)
		if err != nil && err != device.ErrTimeout {
			// Terminal: surface transport-closed and stop. Reconnection is
			// the caller's decision, via Open.
			a.log.Error("Transport read failed: %v", err)
			closeErr = err
			return
		}

		if n > 0 {
			lines, dropped := a.framer.Feed(buf[:n])
			if dropped > 0 {
				a.dispatcher.Publish(event.TopicDecodeError, &DecodeError{
					Reason: fmt.Sprintf("discarded %d line(s) with no terminator", dropped),
				})
			}
			for _, line := range lines {
				a.handleLine(line)
			}
		}

		if time.Since(lastSweep) >= a.sweepInterval {
			lastSweep = time.Now()
			a.publishZoneEvents(a.tracker.Sweep(lastSweep))
		}
	}
}

func (a *AlarmDecoder) handleLine(line string) {
	a.log.Protocol("<- %s", line)

	msg := a.decoder.Decode(line)
	a.dispatcher.Publish(event.TopicMessage, msg)

	if msg.Kind == protocol.KindUnknown {
		a.dispatcher.Publish(event.TopicDecodeError, &DecodeError{
			Line:   msg.Raw,
			Reason: "unclassifiable line",
		})
		return
	}

	switch msg.Kind {
	case protocol.KindPanel:
		if !a.maskMatches(msg.Panel) {
			return
		}
		a.updatePanelState(msg.Panel)
		a.maybeExpandFaults(msg.Panel)

	case protocol.KindVersion:
		a.stateMu.Lock()
		a.version.SerialNumber = msg.Version.SerialNumber
		a.version.Version = msg.Version.Version
		a.version.Flags = msg.Version.Flags
		a.stateMu.Unlock()

	case protocol.KindConfig:
		a.stateMu.Lock()
		a.version.KeypadAddress = msg.Config.Address
		a.version.ConfigBits = msg.Config.ConfigBits
		a.version.AddressMask = msg.Config.Mask
		if msg.Config.ModeKnown {
			// Recorded for inspection only; the decoder's dialect is fixed
			// at construction so sessions with different dialects can
			// coexist.
			a.version.Mode = msg.Config.Mode
		}
		a.stateMu.Unlock()

	case protocol.KindRelay:
		a.stateMu.Lock()
		a.relays[RelayAddress{msg.Expander.Address, msg.Expander.Channel}] = msg.Expander.Value
		a.stateMu.Unlock()
	}

	a.publishZoneEvents(a.tracker.Apply(msg))
}

func (a *AlarmDecoder) maskMatches(f *protocol.PanelFields) bool {
	if !f.MaskKnown {
		return true
	}
	return a.addressMask&f.Mask != 0
}

func (a *AlarmDecoder) updatePanelState(f *protocol.PanelFields) {
	a.stateMu.Lock()

	old := a.panel
	st := PanelState{
		Ready:              f.Ready,
		ArmedAway:          f.ArmedAway,
		ArmedStay:          f.ArmedStay,
		AlarmSounding:      f.AlarmSounding,
		AlarmEventOccurred: f.AlarmEventOccurred,
		FireAlarm:          f.FireAlarm,
		ZoneBypassed:       f.ZoneBypassed,
		ProgrammingMode:    f.ProgrammingMode,
		ACPower:            f.ACPower,
		ChimeOn:            f.ChimeOn,
		BatteryLow:         f.BatteryLow,
		EntryDelayOff:      f.EntryDelayOff,
		PerimeterOnly:      f.PerimeterOnly,
		ExitDelay:          exitDelay(old.ExitDelay, f, a.decoder.Dialect()),
		Beeps:              f.Beeps,
		KeypadText:         f.Text,
		LastMessage:        time.Now(),
	}
	a.panel = st
	changed := !st.equalIgnoringTime(old)

	a.stateMu.Unlock()

	if changed {
		a.dispatcher.Publish(event.TopicPanelState, st)
	}
}

// exitDelay derives whether the exit-delay window is open from the keypad
// text, per dialect. ADEMCO SYSTEM/CHECK lines carry stale text, so the
// previous value is preserved across them.
func exitDelay(prev bool, f *protocol.PanelFields, d protocol.Dialect) bool {
	if !f.ArmedAway && !f.ArmedStay {
		return false
	}

	text := strings.ToUpper(f.Text)

	if d.Mode == protocol.ModeADEMCO &&
		(strings.HasPrefix(text, d.SystemTextPrefix) || strings.HasPrefix(text, d.CheckTextPrefix)) {
		return prev
	}

	for _, phrase := range d.ExitTexts {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// maybeExpandFaults asks the panel to enumerate faulted zones when the
// keypad is prompting for it. The panel only lists faults on demand after
// boot or leaving programming mode.
func (a *AlarmDecoder) maybeExpandFaults(f *protocol.PanelFields) {
	if f.Ready {
		return
	}
	if !strings.Contains(f.Text, "Hit * for faults") &&
		!strings.Contains(f.Text, "Press *  to show faults") {
		return
	}

	now := time.Now()
	if now.Sub(a.lastFaultExpansion) < faultExpansionInterval {
		return
	}
	a.lastFaultExpansion = now

	if err := a.Send("*"); err != nil {
		a.log.Warning("Failed to request fault list: %v", err)
	}
}

func (a *AlarmDecoder) publishZoneEvents(events []zonetracker.Event) {
	for _, e := range events {
		if e.Faulted {
			a.dispatcher.Publish(event.TopicZoneFault, e.Zone)
		} else {
			a.dispatcher.Publish(event.TopicZoneRestore, e.Zone)
		}
	}
}
