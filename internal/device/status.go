//
// Copyright © 2014 Peter De Wachter, 2017 Charles Perkins
//
// Permission to use, copy, modify, and/or distribute this software for any purpose with
// or without fee is hereby granted, provided that the above copyright notice and this
// permission notice appear in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO
// THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT
// SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR
// ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF
// CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE
// OR PERFORMANCE OF THIS SOFTWARE.
//

package device

// Status bit positions within word 0.
const (
	bitFloppyIntr = 1 << 0
	bitHDDDrq     = 1 << 1
	bitMIDIIntr   = 1 << 2
	reservedMask  = 0x00000FF8 // bits 3..11 carry no defined meaning
)

// floppy position descriptor packed into bits 12..31 of word 0:
// {r@31, w@30, addr@21..29, track@13..20, drive@12}.
const (
	floppyDriveShift = 12
	floppyTrackShift = 13
	floppyTrackMask  = 0xFF
	floppyAddrShift  = 21
	floppyAddrMask   = 0x1FF
	floppyWriteBit   = 1 << 30
	floppyReadBit    = 1 << 31
)

// Status is the decoded content of word 0, latched once per interrupt by
// the demultiplexer so every handler invoked for that event observes the
// same snapshot.
type Status struct {
	FloppyIntr bool
	HDDDrq     bool
	MIDIIntr   bool
	Reserved   bool // a reserved bit was set; the event is logged and ignored
	Floppy     FloppyPosition
}

// FloppyPosition is the packed positional descriptor the FPGA reports
// alongside every floppy-related interrupt.
type FloppyPosition struct {
	Read  bool
	Write bool
	Addr  uint16 // 0..511, but only 0..390 are meaningful per rotation
	Track uint8
	Drive uint8 // 0 or 1
}

// DecodeStatus splits a raw word-0 value into its status bits and the
// packed floppy position descriptor.
func DecodeStatus(word uint32) Status {
	return Status{
		FloppyIntr: word&bitFloppyIntr != 0,
		HDDDrq:     word&bitHDDDrq != 0,
		MIDIIntr:   word&bitMIDIIntr != 0,
		Reserved:   word&reservedMask != 0,
		Floppy: FloppyPosition{
			Read:  word&floppyReadBit != 0,
			Write: word&floppyWriteBit != 0,
			Addr:  uint16((word >> floppyAddrShift) & floppyAddrMask),
			Track: uint8((word >> floppyTrackShift) & floppyTrackMask),
			Drive: uint8((word >> floppyDriveShift) & 1),
		},
	}
}

// EncodeStatus is the inverse of DecodeStatus, used by tests and by the
// in-process fake Window.
func EncodeStatus(s Status) uint32 {
	var w uint32
	if s.FloppyIntr {
		w |= bitFloppyIntr
	}
	if s.HDDDrq {
		w |= bitHDDDrq
	}
	if s.MIDIIntr {
		w |= bitMIDIIntr
	}
	if s.Floppy.Read {
		w |= floppyReadBit
	}
	if s.Floppy.Write {
		w |= floppyWriteBit
	}
	w |= uint32(s.Floppy.Addr&floppyAddrMask) << floppyAddrShift
	w |= uint32(s.Floppy.Track&floppyTrackMask) << floppyTrackShift
	w |= uint32(s.Floppy.Drive&1) << floppyDriveShift
	return w
}

// MIDIStatus is the decoded content of word 12.
type MIDIStatus struct {
	RxFull bool
	TxFull bool
	Data   uint8
}

const (
	midiRxFullBit = 0x100
	midiTxFullBit = 0x200
)

// DecodeMIDI splits a raw word-12 value into the ACIA status/data fields.
func DecodeMIDI(word uint32) MIDIStatus {
	return MIDIStatus{
		RxFull: word&midiRxFullBit != 0,
		TxFull: word&midiTxFullBit != 0,
		Data:   uint8(word),
	}
}

// EncodeMIDI is the inverse of DecodeMIDI.
func EncodeMIDI(s MIDIStatus) uint32 {
	w := uint32(s.Data)
	if s.RxFull {
		w |= midiRxFullBit
	}
	if s.TxFull {
		w |= midiTxFullBit
	}
	return w
}
