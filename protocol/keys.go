package protocol

// Special keypad keys. Function and special keys are sent as the key's
// control character repeated three times.
const (
	KeyF1 = "\x01\x01\x01"
	KeyF2 = "\x02\x02\x02"
	KeyF3 = "\x03\x03\x03"
	KeyF4 = "\x04\x04\x04"

	KeyPanic = KeyF2

	KeyS1 = "\x01\x01\x01"
	KeyS2 = "\x02\x02\x02"
	KeyS3 = "\x03\x03\x03"
	KeyS4 = "\x04\x04\x04"
	KeyS5 = "\x05\x05\x05"
	KeyS6 = "\x06\x06\x06"
	KeyS7 = "\x07\x07\x07"
	KeyS8 = "\x08\x08\x08"
)
