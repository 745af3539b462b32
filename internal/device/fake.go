package device

import "sync"

// Fake is an in-process Window used by the other packages' tests: a plain
// byte slice standing in for the mmap'd region, with WaitInterrupt driven
// by a channel of queued events instead of a real UIO descriptor.
type Fake struct {
	mu       sync.Mutex
	mem      [RegionSize]byte
	events   chan Event
	shutdown chan struct{}
	rearmed  int
	ColdResets []struct {
		MemSizeCode uint32
		Turbo       bool
	}
}

// NewFake returns a ready-to-use Fake Window; no Acquire call is needed.
func NewFake() *Fake {
	return &Fake{
		events:   make(chan Event, 64),
		shutdown: make(chan struct{}),
	}
}

func (f *Fake) Acquire() error { return nil }

// PushEvent queues an interrupt event for the next WaitInterrupt call to
// return, after writing word 0 to match ev.Status so StatusWord() stays
// consistent for any accessor calls the handler makes mid-event.
func (f *Fake) PushEvent(ev Event) {
	f.mu.Lock()
	if ev.Kind == EventInterrupt {
		writeLE32(f.mem[offStatus:], EncodeStatus(ev.Status))
	}
	f.mu.Unlock()
	f.events <- ev
}

func (f *Fake) WaitInterrupt(budgetMS int) (Event, error) {
	select {
	case <-f.shutdown:
		return Event{Kind: EventShutdown}, nil
	case ev := <-f.events:
		return ev, nil
	default:
	}
	select {
	case <-f.shutdown:
		return Event{Kind: EventShutdown}, nil
	case ev := <-f.events:
		return ev, nil
	}
}

func (f *Fake) Rearm() error {
	f.mu.Lock()
	f.rearmed++
	f.mu.Unlock()
	return nil
}

func (f *Fake) Release() error { return nil }

func (f *Fake) RequestShutdown() {
	select {
	case <-f.shutdown:
	default:
		close(f.shutdown)
	}
}

func (f *Fake) StatusWord() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readLE32(f.mem[offStatus:])
}

func (f *Fake) FloppyStaging() []byte {
	return f.mem[offStaging : offStaging+stagingLen]
}

func (f *Fake) MIDIRegister() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readLE32(f.mem[offMIDI:])
}

func (f *Fake) SetMIDIRegister(v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeLE32(f.mem[offMIDI:], v)
}

func (f *Fake) ACSIRegister() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readLE32(f.mem[offACSI:])
}

func (f *Fake) SetACSIRegister(v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeLE32(f.mem[offACSI:], v)
}

func (f *Fake) DMABuffer(id int) []byte {
	switch id {
	case 0:
		return f.mem[offDMA0 : offDMA0+dmaBufLen]
	case 1:
		return f.mem[offDMA1 : offDMA1+dmaBufLen]
	default:
		panic("device: invalid DMA buffer id")
	}
}

func (f *Fake) ColdReset(memSizeCode uint32, turbo bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ColdResets = append(f.ColdResets, struct {
		MemSizeCode uint32
		Turbo       bool
	}{memSizeCode, turbo})
	return nil
}

func readLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

var _ Window = (*Fake)(nil)
