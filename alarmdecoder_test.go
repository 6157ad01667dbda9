package alarmdecoder

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nutechsoftware/alarmdecoder/device"
	"github.com/nutechsoftware/alarmdecoder/event"
	"github.com/nutechsoftware/alarmdecoder/zonetracker"
)

const (
	readyLine = `[1000000100000000----],008,[f70600ff1008001c28020000000000],"****DISARMED****  Ready to Arm  "`
	armedLine = `[0100000100000000----],008,[f70600ff1008001c28020000000000],"ARMED ***AWAY***"`
	faultLine = `[0000000100000000----],005,[f70600ff1008001c28020000000000],"FAULT 05 FRONT DOOR"`
)

// fakeTransport is a scripted in-memory Transport: tests feed it protocol
// lines and record what the session writes.
type fakeTransport struct {
	data chan []byte
	fail chan struct{}

	mu     sync.Mutex
	writes []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		data: make(chan []byte, 64),
		fail: make(chan struct{}),
	}
}

func (f *fakeTransport) feed(line string) {
	f.data <- []byte(line + "\r\n")
}

// failRead makes every subsequent Read return a terminal error.
func (f *fakeTransport) failRead() {
	close(f.fail)
}

func (f *fakeTransport) Open() error { return nil }

func (f *fakeTransport) Read(p []byte, timeout time.Duration) (int, error) {
	select {
	case <-f.fail:
		return 0, io.ErrUnexpectedEOF
	case b := <-f.data:
		return copy(p, b), nil
	case <-time.After(timeout):
		return 0, device.ErrTimeout
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) String() string { return "fake://" }

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func newTestSession(t *testing.T) (*AlarmDecoder, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	a := New(tr, Config{ReadTimeout: 5 * time.Millisecond}, nil)
	return a, tr
}

func waitEvent(t *testing.T, ch <-chan interface{}) interface{} {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch <-chan interface{}) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func subscribe(a *AlarmDecoder, topics ...event.Topic) <-chan interface{} {
	ch := make(chan interface{}, 64)
	for _, topic := range topics {
		a.Subscribe(topic, func(_ event.Topic, payload interface{}) {
			ch <- payload
		})
	}
	return ch
}

func TestCommandsRequireOpenSession(t *testing.T) {
	a, _ := newTestSession(t)

	if err := a.Send("1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send before Open = %v, want ErrNotOpen", err)
	}
}

func TestOpenRequestsDeviceIdentity(t *testing.T) {
	a, tr := newTestSession(t)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	writes := tr.written()
	if len(writes) != 2 || writes[0] != "C\r" || writes[1] != "V\r" {
		t.Fatalf("writes on open = %q, want [C\\r V\\r]", writes)
	}
}

func TestPanelStatePublishedOnChangeOnly(t *testing.T) {
	a, tr := newTestSession(t)
	states := subscribe(a, event.TopicPanelState)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed(armedLine)
	st := waitEvent(t, states).(PanelState)
	if !st.ArmedAway {
		t.Fatalf("state = %+v, want ArmedAway", st)
	}

	// An identical line is not a state change.
	tr.feed(armedLine)
	assertNoEvent(t, states)

	snap := a.Snapshot()
	if !snap.ArmedAway || snap.KeypadText != "ARMED ***AWAY***" {
		t.Fatalf("Snapshot() = %+v", snap)
	}

	tr.feed(readyLine)
	st = waitEvent(t, states).(PanelState)
	if st.ArmedAway || !st.Ready {
		t.Fatalf("state = %+v, want disarmed ready", st)
	}
}

func TestZoneFaultRestoreEventOrder(t *testing.T) {
	a, tr := newTestSession(t)
	faults := subscribe(a, event.TopicZoneFault)
	restores := subscribe(a, event.TopicZoneRestore)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed(faultLine)
	tr.feed(faultLine)

	z := waitEvent(t, faults).(zonetracker.Zone)
	if z.ID != 5 {
		t.Fatalf("faulted zone = %d, want 5", z.ID)
	}
	// The duplicate fault is not a transition.
	assertNoEvent(t, faults)

	tr.feed(readyLine)
	z = waitEvent(t, restores).(zonetracker.Zone)
	if z.ID != 5 || z.Status != zonetracker.StatusClear {
		t.Fatalf("restored zone = %+v", z)
	}

	if got, ok := a.Zone(5); !ok || got.Status != zonetracker.StatusClear {
		t.Fatalf("Zone(5) = %+v, %v", got, ok)
	}
}

func TestEveryLineReachesMessageTopic(t *testing.T) {
	a, tr := newTestSession(t)
	msgs := subscribe(a, event.TopicMessage)
	decodeErrs := subscribe(a, event.TopicDecodeError)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed("total garbage")
	waitEvent(t, msgs)

	derr := waitEvent(t, decodeErrs).(*DecodeError)
	if derr.Line != "total garbage" {
		t.Fatalf("decode error = %+v", derr)
	}
}

func TestVersionAndConfigRecorded(t *testing.T) {
	a, tr := newTestSession(t)
	msgs := subscribe(a, event.TopicMessage)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed("!VER:ffffffff,V2.2a.8.8,TX;RX;SM")
	tr.feed("!CONFIG>ADDRESS=18&CONFIGBITS=ff00&MASK=ffffffff&MODE=A")
	waitEvent(t, msgs)
	waitEvent(t, msgs)

	info := a.VersionInfo()
	if info.SerialNumber != "ffffffff" || info.Version != "V2.2a.8.8" {
		t.Fatalf("VersionInfo() = %+v", info)
	}
	if info.KeypadAddress != 18 || info.AddressMask != 0xffffffff {
		t.Fatalf("VersionInfo() = %+v", info)
	}
}

func TestRelayValuesRecorded(t *testing.T) {
	a, tr := newTestSession(t)
	msgs := subscribe(a, event.TopicMessage)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed("!REL:12,01,01")
	waitEvent(t, msgs)

	relays := a.Relays()
	if relays[RelayAddress{12, 1}] != 1 {
		t.Fatalf("Relays() = %+v", relays)
	}
}

func TestAddressMaskFiltersKeypadLines(t *testing.T) {
	tr := newFakeTransport()
	a := New(tr, Config{
		ReadTimeout: 5 * time.Millisecond,
		AddressMask: 0x08000000, // not in the test line's mask 0x0600ff10
	}, nil)
	states := subscribe(a, event.TopicPanelState)
	msgs := subscribe(a, event.TopicMessage)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed(armedLine)
	// The raw message is still delivered, but state is untouched.
	waitEvent(t, msgs)
	assertNoEvent(t, states)

	if a.Snapshot().ArmedAway {
		t.Fatal("masked-out keypad line changed panel state")
	}
}

func TestCommandFormats(t *testing.T) {
	a, tr := newTestSession(t)
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.ArmAway("1234")
	a.ArmStay("1234")
	a.Disarm("1234")
	a.FaultZone(5, false)
	a.FaultZone(7, true)
	a.ClearZone(5)
	a.Reboot()

	want := []string{
		"C\r", "V\r", // identity requests on open
		"12342", "12343", "12341",
		"L051\r", "L072\r", "L050\r",
		"=",
	}
	got := tr.written()
	if len(got) != len(want) {
		t.Fatalf("writes = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("writes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCloseIsIdempotentAndQuiesces(t *testing.T) {
	a, tr := newTestSession(t)
	closes := subscribe(a, event.TopicClose)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if payload := waitEvent(t, closes); payload != nil {
		t.Fatalf("close payload = %v, want nil on clean close", payload)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	// Lines fed after close must not produce events.
	states := subscribe(a, event.TopicPanelState)
	tr.feed(armedLine)
	assertNoEvent(t, states)

	if err := a.Send("1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send after Close = %v, want ErrNotOpen", err)
	}
}

func TestTransportFailureClosesSession(t *testing.T) {
	a, tr := newTestSession(t)
	closes := subscribe(a, event.TopicClose)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}

	tr.failRead()

	payload := waitEvent(t, closes)
	if !errors.Is(payload.(error), io.ErrUnexpectedEOF) {
		t.Fatalf("close payload = %v, want the read error", payload)
	}

	if err := a.Send("1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send after failure = %v, want ErrNotOpen", err)
	}

	// Close after a self-stop is still clean.
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReopenAfterClose(t *testing.T) {
	a, tr := newTestSession(t)

	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	states := subscribe(a, event.TopicPanelState)
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tr.feed(armedLine)
	st := waitEvent(t, states).(PanelState)
	if !st.ArmedAway {
		t.Fatalf("state after reopen = %+v", st)
	}
}

func TestConcurrentCommandsAndSnapshots(t *testing.T) {
	a, tr := newTestSession(t)
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				a.Send("1")
				a.Snapshot()
				a.Zones()
			}
		}()
	}

	for j := 0; j < 20; j++ {
		tr.feed(faultLine)
		tr.feed(readyLine)
	}
	wg.Wait()
}
