// Package zonetracker reconciles decoded panel traffic into per-zone
// fault/restore state.
package zonetracker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nutechsoftware/alarmdecoder/internal/log"
	"github.com/nutechsoftware/alarmdecoder/protocol"
)

// Status is a zone's fault state.
type Status int

const (
	StatusClear Status = iota
	StatusFault
)

func (s Status) String() string {
	switch s {
	case StatusClear:
		return "Clear"
	case StatusFault:
		return "Fault"
	default:
		return fmt.Sprintf("Unknown Status(%d)", s)
	}
}

// Source identifies which message family last reported a zone. Expiry policy
// differs by source: wireless sensors transmit only on change, so silence
// has meaning; wired zones are governed by explicit status alone.
type Source int

const (
	SourcePanel Source = iota
	SourceExpander
	SourceRF
)

func (s Source) String() string {
	switch s {
	case SourcePanel:
		return "Panel"
	case SourceExpander:
		return "Expander"
	case SourceRF:
		return "RF"
	default:
		return fmt.Sprintf("Unknown Source(%d)", s)
	}
}

// Zone is a snapshot of one tracked zone.
type Zone struct {
	ID         int
	Status     Status
	Source     Source
	LastUpdate time.Time
}

// Event is a single zone transition. Faulted is true for Clear→Fault and
// false for Fault→Clear; the Zone snapshot reflects the state after the
// transition.
type Event struct {
	Zone    Zone
	Faulted bool
}

// ExpiryPolicy controls the staleness sweep. Zones whose source is listed
// and whose last update is older than TTL are forced Clear. The threshold
// and the source set are policy, not protocol, so both are configurable.
type ExpiryPolicy struct {
	TTL     time.Duration
	Sources map[Source]bool
}

// DefaultExpiryPolicy expires RF-sourced zones after four hours. Wireless
// sensors report only on change; silence past the supervision window means
// either restore or lost supervision, both treated as Clear rather than
// leaving a zone faulted forever.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		TTL:     4 * time.Hour,
		Sources: map[Source]bool{SourceRF: true},
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tracker) { t.log = logger }
}

// WithExpiryPolicy overrides the default staleness policy.
func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(t *Tracker) { t.policy = p }
}

// WithRFZones maps RF transmitter serial numbers to zone numbers so wireless
// status reports can drive zone state. Unmapped serials are ignored.
func WithRFZones(zones map[string]int) Option {
	return func(t *Tracker) {
		t.rfZones = make(map[string]int, len(zones))
		for serial, zone := range zones {
			t.rfZones[serial] = zone
		}
	}
}

// Tracker maintains the zone table. Apply and Sweep are intended to run on
// the session's read-loop goroutine; the internal lock exists so snapshot
// reads are safe from any goroutine.
type Tracker struct {
	log     *log.Logger
	dialect protocol.Dialect
	policy  ExpiryPolicy
	rfZones map[string]int

	mu        sync.Mutex
	zones     map[int]*Zone
	faulted   []int // sorted zone IDs of panel-sourced faults
	lastFault int   // last panel-reported fault, 0 when out of sequence

	now func() time.Time
}

// New creates a tracker for the given dialect.
func New(dialect protocol.Dialect, opts ...Option) *Tracker {
	t := &Tracker{
		log:     log.Nop(),
		dialect: dialect,
		policy:  DefaultExpiryPolicy(),
		zones:   make(map[int]*Zone),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply updates zone state from one decoded message and returns the zone
// transitions it caused, in order.
func (t *Tracker) Apply(msg *protocol.Message) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Kind {
	case protocol.KindPanel:
		return t.applyPanel(msg.Panel)
	case protocol.KindExpander:
		return t.applyExpander(msg.Expander)
	case protocol.KindRF:
		return t.applyRF(msg.RF)
	}

	return nil
}

// Sweep forces stale zones Clear per the expiry policy and returns the
// restore events. It is idempotent: zones already Clear are untouched, so an
// explicit restore processed in the same batch always wins.
func (t *Tracker) Sweep(now time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.policy.TTL <= 0 {
		return nil
	}

	var ids []int
	for id, z := range t.zones {
		if z.Status == StatusFault && t.policy.Sources[z.Source] && now.Sub(z.LastUpdate) > t.policy.TTL {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var events []Event
	for _, id := range ids {
		t.log.Debug("Zone %d expired after %s of silence", id, t.policy.TTL)
		events = append(events, t.setStatus(id, StatusClear, t.zones[id].Source)...)
	}
	return events
}

// Zones returns a snapshot of every tracked zone, sorted by ID.
func (t *Tracker) Zones() []Zone {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Zone, 0, len(t.zones))
	for _, z := range t.zones {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Zone returns a snapshot of one zone.
func (t *Tracker) Zone(id int) (Zone, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	z, ok := t.zones[id]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// Reset forgets every tracked zone. Zones are otherwise kept for the process
// lifetime; expiry clears them but never deletes them.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.zones = make(map[int]*Zone)
	t.faulted = nil
	t.lastFault = 0
}

func (t *Tracker) applyPanel(f *protocol.PanelFields) []Event {
	d := t.dialect

	// A ready panel has no outstanding faults. SYSTEM status lines carry an
	// unreliable ready bit and are skipped.
	if f.Ready && !strings.HasPrefix(f.Text, d.SystemTextPrefix) {
		return t.clearPanelFaults()
	}

	if d.Mode == protocol.ModeDSC {
		// DSC panels report faults through expander messages only.
		return nil
	}

	if !f.CheckZone && !hasAnyPrefix(f.Text, d.FaultTextPrefixes) {
		return nil
	}

	zone, ok := f.ZoneCode()
	if !ok {
		return nil
	}

	// ECP bus failures report as zone 191 regardless of addressing mode; the
	// real zone is only present in the alpha text.
	if zone == 191 {
		zone, ok = checkTextZone(f.Text, d.CheckTextPrefix)
		if !ok {
			return nil
		}
	}

	if existing, ok := t.zones[zone]; ok && existing.Status == StatusFault && existing.Source == SourcePanel {
		// Repeat of a known fault. Panels rotate through their faulted zones
		// one per status line, so any panel zone we skipped since the last
		// report must have restored.
		existing.LastUpdate = t.now()
		events := t.clearRotation(zone)
		t.lastFault = zone
		return events
	}

	events := t.setStatus(zone, StatusFault, SourcePanel)
	t.lastFault = 0 // new fault, rotation order unknown
	return events
}

func (t *Tracker) applyExpander(f *protocol.ExpanderFields) []Event {
	if f.Relay {
		return nil
	}

	zone := t.dialect.ExpanderToZone(f.Address, f.Channel)
	if zone < 0 {
		t.log.Warning("Cannot map expander %d channel %d to a zone", f.Address, f.Channel)
		return nil
	}

	status := StatusClear
	if f.Value > 0 {
		status = StatusFault
	}
	return t.setStatus(zone, status, SourceExpander)
}

func (t *Tracker) applyRF(f *protocol.RFFields) []Event {
	zone, ok := t.rfZones[f.SerialNumber]
	if !ok {
		return nil
	}

	status := StatusClear
	if f.FaultIndicated() {
		status = StatusFault
	}
	return t.setStatus(zone, status, SourceRF)
}

// setStatus creates the zone on first reference and emits exactly one event
// per Clear→Fault or Fault→Clear transition. Repeats refresh LastUpdate
// without an event.
func (t *Tracker) setStatus(id int, status Status, source Source) []Event {
	z, ok := t.zones[id]
	if !ok {
		z = &Zone{ID: id}
		t.zones[id] = z
	}

	old := z.Status
	z.Status = status
	z.Source = source
	z.LastUpdate = t.now()

	// The rotation list only ever holds panel-sourced faults.
	if status == StatusFault && source == SourcePanel {
		t.addFaulted(id)
	} else {
		t.removeFaulted(id)
	}

	if old == status {
		return nil
	}

	if status == StatusFault {
		t.log.Info("Zone %d faulted (%s)", id, source)
		return []Event{{Zone: *z, Faulted: true}}
	}

	t.log.Info("Zone %d restored (%s)", id, source)
	return []Event{{Zone: *z, Faulted: false}}
}

// clearPanelFaults restores every panel-sourced fault. Expander and RF zones
// are governed by their own reports.
func (t *Tracker) clearPanelFaults() []Event {
	var events []Event
	for _, id := range append([]int(nil), t.faulted...) {
		events = append(events, t.setStatus(id, StatusClear, SourcePanel)...)
	}
	t.lastFault = 0
	return events
}

// clearRotation restores the panel-sourced zones the fault rotation skipped
// between the previous report and the current one, wrapping around the
// sorted fault list.
func (t *Tracker) clearRotation(current int) []Event {
	if t.lastFault == 0 {
		return nil
	}

	order := append([]int(nil), t.faulted...)
	start := -1
	for i, id := range order {
		if id == t.lastFault {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var skipped []int
	for i := 1; i < len(order); i++ {
		id := order[(start+i)%len(order)]
		if id == current {
			break
		}
		skipped = append(skipped, id)
	}

	var events []Event
	for _, id := range skipped {
		if z, ok := t.zones[id]; ok && z.Source == SourcePanel {
			events = append(events, t.setStatus(id, StatusClear, SourcePanel)...)
		}
	}
	return events
}

func (t *Tracker) addFaulted(id int) {
	i := sort.SearchInts(t.faulted, id)
	if i < len(t.faulted) && t.faulted[i] == id {
		return
	}
	t.faulted = append(t.faulted, 0)
	copy(t.faulted[i+1:], t.faulted[i:])
	t.faulted[i] = id
}

func (t *Tracker) removeFaulted(id int) {
	i := sort.SearchInts(t.faulted, id)
	if i < len(t.faulted) && t.faulted[i] == id {
		t.faulted = append(t.faulted[:i], t.faulted[i+1:]...)
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// checkTextZone pulls the zone number out of a "CHECK nn ..." alpha text.
func checkTextZone(text, prefix string) (int, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix+" ") {
		return 0, false
	}
	rest := text[len(prefix)+1:]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
