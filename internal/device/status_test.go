package device

import "testing"

func TestStatusRoundTrip(t *testing.T) {
	cases := []Status{
		{},
		{FloppyIntr: true},
		{HDDDrq: true, MIDIIntr: true},
		{
			Floppy: FloppyPosition{Read: true, Addr: 390, Track: 79, Drive: 1},
		},
		{
			Floppy: FloppyPosition{Write: true, Addr: 0, Track: 0, Drive: 0},
		},
	}
	for i, c := range cases {
		word := EncodeStatus(c)
		got := DecodeStatus(word)
		if got != c {
			t.Errorf("case %d: round trip mismatch: got %+v, want %+v (word=%#x)", i, got, c, word)
		}
	}
}

func TestDecodeStatusReservedBit(t *testing.T) {
	s := DecodeStatus(1 << 3)
	if !s.Reserved {
		t.Errorf("expected Reserved=true for bit 3 set")
	}
}

func TestFloppyAddr390RoundTrips(t *testing.T) {
	s := DecodeStatus(EncodeStatus(Status{Floppy: FloppyPosition{Addr: 390}}))
	if s.Floppy.Addr != 390 {
		t.Fatalf("Addr = %d, want 390", s.Floppy.Addr)
	}
}

func TestMIDIStatusRoundTrip(t *testing.T) {
	cases := []MIDIStatus{
		{},
		{RxFull: true, Data: 0x7F},
		{TxFull: true, Data: 0x00},
		{RxFull: true, TxFull: true, Data: 0xFF},
	}
	for i, c := range cases {
		got := DecodeMIDI(EncodeMIDI(c))
		if got != c {
			t.Errorf("case %d: got %+v, want %+v", i, got, c)
		}
	}
}
