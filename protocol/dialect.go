package protocol

import "fmt"

// Mode identifies the panel vendor family the AD2 is attached to.
type Mode int

const (
	ModeADEMCO Mode = iota
	ModeDSC
)

func (m Mode) String() string {
	switch m {
	case ModeADEMCO:
		return "ADEMCO"
	case ModeDSC:
		return "DSC"
	default:
		return fmt.Sprintf("Unknown Mode(%d)", m)
	}
}

// ParseMode maps the single-letter mode code used by the !CONFIG response.
func ParseMode(code string) (Mode, bool) {
	switch code {
	case "A":
		return ModeADEMCO, true
	case "D":
		return ModeDSC, true
	}
	return ModeADEMCO, false
}

// Code returns the single-letter code for the CONFIG command.
func (m Mode) Code() string {
	if m == ModeDSC {
		return "D"
	}
	return "A"
}

// Dialect captures the vendor-specific field layouts and keypad phrases that
// vary within the shared wire format. It is immutable configuration handed
// to the decoder and tracker at construction, so sessions with different
// dialects can coexist in one process.
type Dialect struct {
	Mode Mode

	// FaultTextPrefixes are the alpha-text prefixes that mark a keypad
	// status line as reporting a zone fault.
	FaultTextPrefixes []string

	// CheckTextPrefix marks a wiring-check report ("CHECK 05 WIRE EXPANSION").
	CheckTextPrefix string

	// SystemTextPrefix marks status lines whose ready bit is unreliable and
	// must not clear tracked faults.
	SystemTextPrefix string

	// ExitTexts are the phrases indicating the exit-delay window is open.
	ExitTexts []string

	// ExpanderBaseAddress and ExpanderChannels describe the wired expander
	// addressing scheme used to map an address/channel pair to a zone.
	ExpanderBaseAddress int
	ExpanderChannels    int
}

// Ademco returns the dialect for Honeywell/Ademco panels (Vista family).
func Ademco() Dialect {
	return Dialect{
		Mode:                ModeADEMCO,
		FaultTextPrefixes:   []string{"FAULT", "ALARM"},
		CheckTextPrefix:     "CHECK",
		SystemTextPrefix:    "SYSTEM",
		ExitTexts:           []string{"MAY EXIT NOW"},
		ExpanderBaseAddress: 7,
		ExpanderChannels:    7,
	}
}

// DSC returns the dialect for DSC panels.
func DSC() Dialect {
	return Dialect{
		Mode:             ModeDSC,
		CheckTextPrefix:  "CHECK",
		SystemTextPrefix: "SYSTEM",
		ExitTexts:        []string{"QUICK EXIT", "EXIT DELAY"},
	}
}

// ForMode returns the built-in dialect for a panel mode.
func ForMode(m Mode) Dialect {
	if m == ModeDSC {
		return DSC()
	}
	return Ademco()
}

// ExpanderToZone converts a wired expander address and channel into a zone
// number. Returns -1 when the pair cannot be mapped.
func (d Dialect) ExpanderToZone(address, channel int) int {
	switch d.Mode {
	case ModeADEMCO:
		// Expanders use fixed addressing starting at the base address, each
		// owning a block of channels.
		idx := address - d.ExpanderBaseAddress
		if idx < 0 {
			return -1
		}
		return address + channel + (idx * d.ExpanderChannels) + 1
	case ModeDSC:
		return (address * 8) + channel
	}
	return -1
}
