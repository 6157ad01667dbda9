package protocol

import (
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates the message families emitted by AD2 devices. The set is
// closed: adding a family means adding a constant here and a parser entry in
// the decoder's dispatch table.
type Kind int

const (
	KindUnknown Kind = iota
	KindPanel
	KindExpander
	KindRelay
	KindRF
	KindLRR
	KindAUI
	KindVersion
	KindConfig
	KindSending
	KindBoot
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindPanel:
		return "Panel"
	case KindExpander:
		return "Expander"
	case KindRelay:
		return "Relay"
	case KindRF:
		return "RF"
	case KindLRR:
		return "LRR"
	case KindAUI:
		return "AUI"
	case KindVersion:
		return "Version"
	case KindConfig:
		return "Config"
	case KindSending:
		return "Sending"
	case KindBoot:
		return "Boot"
	default:
		return fmt.Sprintf("Unknown Kind(%d)", k)
	}
}

// Message is one decoded protocol line. It is constructed once by the
// decoder and immutable afterwards. Raw always holds the original line, even
// when the line could not be classified. Exactly one of the per-family field
// pointers is non-nil, selected by Kind (none for KindUnknown and KindBoot).
type Message struct {
	Kind      Kind
	Raw       string
	Timestamp time.Time

	// ChecksumOK reports whether the family's structural and fixed-width
	// constraints held. A false value never discards the message, it only
	// marks it degraded.
	ChecksumOK bool

	Panel    *PanelFields
	Expander *ExpanderFields
	RF       *RFFields
	LRR      *LRRFields
	AUI      *AUIFields
	Version  *VersionFields
	Config   *ConfigFields
	Sending  *SendingFields
}

func (m *Message) String() string {
	return m.Raw
}

// PanelFields holds the decoded attributes of a keypad status line.
type PanelFields struct {
	Ready              bool
	ArmedAway          bool
	ArmedStay          bool
	BacklightOn        bool
	ProgrammingMode    bool
	Beeps              int
	ZoneBypassed       bool
	ACPower            bool
	ChimeOn            bool
	AlarmEventOccurred bool
	AlarmSounding      bool
	BatteryLow         bool
	EntryDelayOff      bool
	FireAlarm          bool
	CheckZone          bool
	PerimeterOnly      bool

	// NumericCode is the 3-character code section, kept verbatim since its
	// base depends on the panel. Use ZoneCode for the numeric value.
	NumericCode string

	// Mask is the keypad address mask from the panel data section.
	// MaskKnown is false when the field failed to parse.
	Mask      uint32
	MaskKnown bool

	// SystemFault is the panel's system-fault digit, or -1 when the panel
	// did not report one.
	SystemFault int

	// Text is the alpha text shown on the keypad LCD.
	Text string

	// CursorLocation is the keypad cursor position, or -1 when the panel did
	// not report one.
	CursorLocation int

	// Bitfield and PanelData are the raw bracketed sections, preserved for
	// diagnostics.
	Bitfield  string
	PanelData string
}

// ZoneCode parses the numeric code section as a zone number. Panels report
// it in base 10 or, on some firmware, base 16; base 10 is tried first.
func (f *PanelFields) ZoneCode() (int, bool) {
	if n, err := strconv.Atoi(f.NumericCode); err == nil {
		return n, true
	}
	if n, err := strconv.ParseInt(f.NumericCode, 16, 32); err == nil {
		return int(n), true
	}
	return 0, false
}

// ExpanderFields holds a zone- or relay-expander report. Relay is true for
// !REL lines. Numeric fields that failed to parse are -1.
type ExpanderFields struct {
	Relay   bool
	Address int
	Channel int
	Value   int
}

// RFFields holds a wireless sensor status report.
type RFFields struct {
	SerialNumber string
	// Value is the raw status byte, or -1 when it failed to parse.
	Value       int
	BatteryLow  bool
	Supervision bool
	Loops       [4]bool
}

// FaultIndicated reports whether any loop is showing a fault.
func (f *RFFields) FaultIndicated() bool {
	return f.Loops[0] || f.Loops[1] || f.Loops[2] || f.Loops[3]
}

// LRRFields holds a long-range-radio report. The four-field form carries a
// structured event type ("CID_3441"); EventPrefix, EventStatus and EventCode
// are only populated for that form.
type LRRFields struct {
	EventData  string
	Partition  int
	EventType  string
	ReportCode string

	EventPrefix string
	EventStatus int
	EventCode   int
}

// AUIFields holds a message destined for an AUI keypad, opaque to us.
type AUIFields struct {
	Value string
}

// VersionFields holds the device's !VER response.
type VersionFields struct {
	SerialNumber string
	Version      string
	Flags        string
}

// ConfigFields holds the device's !CONFIG response.
type ConfigFields struct {
	Address      int
	ConfigBits   uint16
	Mask         uint32
	EmulateZone  [5]bool
	EmulateRelay [4]bool
	EmulateLRR   bool
	Deduplicate  bool
	EmulateCOM   bool
	Mode         Mode
	ModeKnown    bool
}

// SendingFields reports the outcome of a keypress transmission. The device
// prints one dot per retry; five or more dots means the panel never
// acknowledged.
type SendingFields struct {
	Success bool
}
