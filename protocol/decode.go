package protocol

import (
	"strconv"
	"strings"
	"time"
)

// minimum keypad bitfield width: 16 status flags plus the beep digit live in
// the first 16 positions; real devices send 20.
const (
	minBitfieldLen   = 16
	fullBitfieldLen  = 20
	fullPanelDataLen = 20
)

type parserFunc func(raw, data string) *Message

type sigilParser struct {
	prefix string
	parse  parserFunc
}

// Decoder classifies framed lines and produces typed messages. Decode never
// returns an error: lines that cannot be classified come back as KindUnknown
// with the raw text preserved, so a bad line can be reported without
// stopping the read loop. A Decoder is immutable after construction and safe
// for concurrent use.
type Decoder struct {
	dialect Dialect
	sigils  []sigilParser
}

// NewDecoder returns a decoder for the given panel dialect.
func NewDecoder(dialect Dialect) *Decoder {
	d := &Decoder{dialect: dialect}

	// Dispatch table over the leading sigil. Keypad status lines have no
	// sigil (or the optional !KPM prefix) and are handled before the table.
	d.sigils = []sigilParser{
		{"!EXP:", d.parseExpander(false)},
		{"!REL:", d.parseExpander(true)},
		{"!RFX:", d.parseRF},
		{"!LRR:", d.parseLRR},
		{"!AUI:", d.parseAUI},
		{"!VER:", d.parseVersion},
		{"!CONFIG>", d.parseConfig},
		{"!Sending", d.parseSending},
		{"!Ready", d.parseBoot},
	}

	return d
}

// Dialect returns the dialect the decoder was built with.
func (d *Decoder) Dialect() Dialect {
	return d.dialect
}

// Decode classifies one framed line into a typed message.
func (d *Decoder) Decode(line string) *Message {
	data := strings.TrimLeft(line, "\x00")
	if data == "" {
		return unknown(line)
	}

	if data[0] != '!' || strings.HasPrefix(data, "!KPM:") {
		return d.parseKeypad(line, data)
	}

	for _, s := range d.sigils {
		if strings.HasPrefix(data, s.prefix) {
			return s.parse(line, data)
		}
	}

	return unknown(line)
}

func unknown(raw string) *Message {
	return &Message{Kind: KindUnknown, Raw: raw, Timestamp: time.Now()}
}

func newMessage(kind Kind, raw string) *Message {
	return &Message{Kind: kind, Raw: raw, Timestamp: time.Now(), ChecksumOK: true}
}

// parseKeypad handles the bracketed keypad status format:
//
//	[1000000100000000----],008,[f70600ff1008001c28020000000000],"ARMED ***AWAY** "
//
// optionally prefixed with !KPM:.
func (d *Decoder) parseKeypad(raw, data string) *Message {
	data = strings.TrimPrefix(data, "!KPM:")

	bitfield, rest, ok := bracketSection(data)
	if !ok || len(bitfield) < minBitfieldLen {
		return unknown(raw)
	}

	rest, ok = expect(rest, ',')
	if !ok {
		return unknown(raw)
	}

	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return unknown(raw)
	}
	numeric := rest[:comma]
	rest = rest[comma+1:]

	panelData, rest, ok := bracketSection(rest)
	if !ok {
		return unknown(raw)
	}

	rest, ok = expect(rest, ',')
	if !ok {
		return unknown(raw)
	}
	alpha, ok := quotedSection(rest)
	if !ok {
		return unknown(raw)
	}

	f := &PanelFields{
		NumericCode:    numeric,
		Text:           alpha,
		CursorLocation: -1,
		Bitfield:       bitfield,
		PanelData:      panelData,
	}

	isSet := func(i int) bool { return i < len(bitfield) && bitfield[i] != '0' }

	f.Ready = isSet(0)
	f.ArmedAway = isSet(1)
	f.ArmedStay = isSet(2)
	f.BacklightOn = isSet(3)
	f.ProgrammingMode = isSet(4)
	f.ZoneBypassed = isSet(6)
	f.ACPower = isSet(7)
	f.ChimeOn = isSet(8)
	f.AlarmEventOccurred = isSet(9)
	f.AlarmSounding = isSet(10)
	f.BatteryLow = isSet(11)
	f.EntryDelayOff = isSet(12)
	f.FireAlarm = isSet(13)
	f.CheckZone = isSet(14)
	f.PerimeterOnly = isSet(15)

	// Beep count is a single hex digit; a bad digit degrades just this field.
	f.Beeps = -1
	if n, err := strconv.ParseInt(bitfield[5:6], 16, 8); err == nil {
		f.Beeps = int(n)
	}

	if len(panelData) >= 10 {
		if mask, err := strconv.ParseUint(panelData[2:10], 16, 32); err == nil {
			f.Mask = uint32(mask)
			f.MaskKnown = true
		}
	}

	// The system-fault digit sits past the status flags; panels that do not
	// report one leave a dash there.
	f.SystemFault = -1
	if len(bitfield) >= 17 {
		if n, err := strconv.ParseInt(bitfield[16:17], 16, 8); err == nil {
			f.SystemFault = int(n)
		}
	}

	// The cursor position rides in two extra panel-data characters, present
	// only when the preceding flag byte says so.
	if len(panelData) >= 22 {
		if flags, err := strconv.ParseUint(panelData[18:20], 16, 8); err == nil && flags&0x01 != 0 {
			if loc, err := strconv.ParseUint(panelData[20:22], 16, 8); err == nil {
				f.CursorLocation = int(loc)
			}
		}
	}

	msg := newMessage(KindPanel, raw)
	msg.Panel = f
	msg.ChecksumOK = len(bitfield) >= fullBitfieldLen &&
		isBitfieldText(bitfield) &&
		len(panelData) >= fullPanelDataLen &&
		isHexText(panelData)

	return msg
}

// parseExpander handles !EXP (zone expander) and !REL (relay) reports:
// address, channel, value.
func (d *Decoder) parseExpander(relay bool) parserFunc {
	return func(raw, data string) *Message {
		parts := strings.Split(data[len("!EXP:"):], ",")
		if len(parts) != 3 {
			return unknown(raw)
		}

		kind := KindExpander
		if relay {
			kind = KindRelay
		}
		msg := newMessage(kind, raw)
		f := &ExpanderFields{Relay: relay}
		f.Address, msg.ChecksumOK = atoiField(parts[0], msg.ChecksumOK)
		f.Channel, msg.ChecksumOK = atoiField(parts[1], msg.ChecksumOK)
		f.Value, msg.ChecksumOK = atoiField(parts[2], msg.ChecksumOK)
		msg.Expander = f
		return msg
	}
}

// parseRF handles wireless sensor reports: serial number and a hex status
// byte carrying battery, supervision and loop bits.
func (d *Decoder) parseRF(raw, data string) *Message {
	parts := strings.Split(data[len("!RFX:"):], ",")
	if len(parts) != 2 {
		return unknown(raw)
	}

	msg := newMessage(KindRF, raw)
	f := &RFFields{SerialNumber: parts[0], Value: -1}

	if v, err := strconv.ParseInt(parts[1], 16, 32); err == nil {
		f.Value = int(v)

		isBit := func(b int) bool { return f.Value&(1<<(b-1)) != 0 }
		f.BatteryLow = isBit(2)
		f.Supervision = isBit(3)
		f.Loops[2] = isBit(5)
		f.Loops[1] = isBit(6)
		f.Loops[3] = isBit(7)
		f.Loops[0] = isBit(8)
	} else {
		msg.ChecksumOK = false
	}

	msg.RF = f
	return msg
}

// parseLRR handles long-range-radio reports. Newer firmware adds a fourth
// field and encodes the event as PREFIX_<status><code>.
func (d *Decoder) parseLRR(raw, data string) *Message {
	parts := strings.Split(data[len("!LRR:"):], ",")
	if len(parts) < 3 {
		return unknown(raw)
	}

	msg := newMessage(KindLRR, raw)
	f := &LRRFields{EventData: parts[0], EventType: parts[2]}
	f.Partition, msg.ChecksumOK = atoiField(parts[1], msg.ChecksumOK)

	if len(parts) >= 4 {
		f.ReportCode = parts[3]

		prefix, event, found := strings.Cut(f.EventType, "_")
		if found && len(event) >= 2 {
			f.EventPrefix = prefix
			if s, err := strconv.Atoi(event[:1]); err == nil {
				f.EventStatus = s
			} else {
				msg.ChecksumOK = false
			}
			if c, err := strconv.Atoi(event[1:]); err == nil {
				f.EventCode = c
			} else {
				msg.ChecksumOK = false
			}
		} else {
			msg.ChecksumOK = false
		}
	}

	msg.LRR = f
	return msg
}

func (d *Decoder) parseAUI(raw, data string) *Message {
	msg := newMessage(KindAUI, raw)
	msg.AUI = &AUIFields{Value: data[len("!AUI:"):]}
	return msg
}

func (d *Decoder) parseVersion(raw, data string) *Message {
	parts := strings.Split(data[len("!VER:"):], ",")
	if len(parts) < 3 {
		return unknown(raw)
	}

	msg := newMessage(KindVersion, raw)
	msg.Version = &VersionFields{
		SerialNumber: parts[0],
		Version:      parts[1],
		Flags:        parts[2],
	}
	return msg
}

func (d *Decoder) parseConfig(raw, data string) *Message {
	msg := newMessage(KindConfig, raw)
	f := &ConfigFields{}

	for _, setting := range strings.Split(data[len("!CONFIG>"):], "&") {
		key, val, found := strings.Cut(setting, "=")
		if !found {
			msg.ChecksumOK = false
			continue
		}

		switch key {
		case "ADDRESS":
			f.Address, msg.ChecksumOK = atoiField(val, msg.ChecksumOK)
		case "CONFIGBITS":
			if bits, err := strconv.ParseUint(val, 16, 16); err == nil {
				f.ConfigBits = uint16(bits)
			} else {
				msg.ChecksumOK = false
			}
		case "MASK":
			if mask, err := strconv.ParseUint(val, 16, 32); err == nil {
				f.Mask = uint32(mask)
			} else {
				msg.ChecksumOK = false
			}
		case "EXP":
			for i := 0; i < len(f.EmulateZone) && i < len(val); i++ {
				f.EmulateZone[i] = val[i] == 'Y'
			}
		case "REL":
			for i := 0; i < len(f.EmulateRelay) && i < len(val); i++ {
				f.EmulateRelay[i] = val[i] == 'Y'
			}
		case "LRR":
			f.EmulateLRR = val == "Y"
		case "DEDUPLICATE":
			f.Deduplicate = val == "Y"
		case "MODE":
			f.Mode, f.ModeKnown = ParseMode(val)
		case "COM":
			f.EmulateCOM = val == "Y"
		}
	}

	msg.Config = f
	return msg
}

// parseSending handles the keypress acknowledgment line. One dot per retry;
// five dots means the panel never took the keys.
func (d *Decoder) parseSending(raw, data string) *Message {
	rest := data[len("!Sending"):]
	dots := 0
	for dots < len(rest) && rest[dots] == '.' {
		dots++
	}
	if dots == 0 || !strings.HasPrefix(rest[dots:], "done") {
		return unknown(raw)
	}

	msg := newMessage(KindSending, raw)
	msg.Sending = &SendingFields{Success: dots < 5}
	return msg
}

func (d *Decoder) parseBoot(raw, data string) *Message {
	return newMessage(KindBoot, raw)
}

// bracketSection consumes a leading [..] section, returning its contents and
// the remainder.
func bracketSection(s string) (section, rest string, ok bool) {
	if len(s) == 0 || s[0] != '[' {
		return "", "", false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", "", false
	}
	return s[1:end], s[end+1:], true
}

func quotedSection(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' {
		return "", false
	}
	end := strings.LastIndexByte(s[1:], '"')
	if end < 0 {
		return "", false
	}
	return s[1 : 1+end], true
}

func expect(s string, c byte) (string, bool) {
	if len(s) == 0 || s[0] != c {
		return s, false
	}
	return s[1:], true
}

// atoiField parses a decimal field, degrading to -1 and clearing the valid
// flag on failure instead of rejecting the whole message.
func atoiField(s string, valid bool) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1, false
	}
	return n, valid
}

func isBitfieldText(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) && s[i] != '-' {
			return false
		}
	}
	return true
}

func isHexText(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
