package midi

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/device"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, win device.Window) (*Bridge, *os.File, *os.File) {
	t.Helper()
	cfg := &config.Config{MIDIIn: "in", MIDIOut: "out"}
	b := New(cfg, win, discardLogger())

	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	b.inFd = int(inR.Fd())
	b.outFd = int(outW.Fd())
	t.Cleanup(func() {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
	})
	return b, inW, outR
}

func TestOnInterruptForwardsTxFullByte(t *testing.T) {
	win := device.NewFake()
	b, _, outR := newTestBridge(t, win)

	win.SetMIDIRegister(txFull | 0x42)
	b.OnInterrupt()

	buf := make([]byte, 1)
	outR.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(outR, buf); err != nil {
		t.Fatalf("read forwarded byte: %v", err)
	}
	if buf[0] != 0x42 {
		t.Fatalf("forwarded byte = %#x, want 0x42", buf[0])
	}
}

func TestOnInterruptIgnoresWithoutTxFull(t *testing.T) {
	win := device.NewFake()
	b, _, outR := newTestBridge(t, win)

	win.SetMIDIRegister(0x42) // tx_full clear
	b.OnInterrupt()

	outR.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := outR.Read(buf); err == nil {
		t.Fatal("expected no byte forwarded when tx_full is clear")
	}
}

func TestSendPostsToACIA(t *testing.T) {
	win := device.NewFake()
	b, _, _ := newTestBridge(t, win)

	b.send(0x7f)
	if win.MIDIRegister() != 0x7f {
		t.Fatalf("MIDIRegister = %#x, want 0x7f", win.MIDIRegister())
	}
}

func TestRunForwardsInputBytes(t *testing.T) {
	win := device.NewFake()
	b, inW, _ := newTestBridge(t, win)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	if _, err := inW.Write([]byte{0x55}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if win.MIDIRegister()&0xff == 0x55 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if win.MIDIRegister()&0xff != 0x55 {
		t.Fatalf("MIDIRegister = %#x, want low byte 0x55", win.MIDIRegister())
	}
	cancel()
	<-done
}
