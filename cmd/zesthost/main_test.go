package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zestcore/zesthost/internal/acsi"
	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/device"
	"github.com/zestcore/zesthost/internal/floppy"
	"github.com/zestcore/zesthost/internal/midi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopBridge struct{}

func (noopBridge) HandleCommand(cmd []byte, r acsi.Responder)    {}
func (noopBridge) OnDataReceived(data []byte, r acsi.Responder) {}

func newTestLoopDeps(t *testing.T) (*device.Fake, *floppy.Stream, *acsi.CommandState, *midi.Bridge) {
	t.Helper()
	win := device.NewFake()
	fs := floppy.NewStream(discardLogger())
	var disks [8]*acsi.Disk
	for i := range disks {
		d, err := acsi.Open("", nil)
		if err != nil {
			t.Fatal(err)
		}
		disks[i] = d
	}
	commands := acsi.NewCommandState(win, disks, false, noopBridge{}, discardLogger())
	mb := midi.New(&config.Config{}, win, discardLogger())
	return win, fs, commands, mb
}

func TestRunIRQLoopReturnsOnShutdownEvent(t *testing.T) {
	win, fs, commands, mb := newTestLoopDeps(t)
	win.PushEvent(device.Event{Kind: device.EventShutdown})

	done := make(chan struct{})
	go func() {
		runIRQLoop(context.Background(), win, fs, commands, mb, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runIRQLoop did not return on a shutdown event")
	}
}

func TestRunIRQLoopReturnsOnRequestShutdown(t *testing.T) {
	// Mirrors run()'s real shutdown path: ctx cancellation itself only
	// unblocks T-GEMDOS/T-MIDI/T-JUKEBOX directly; T-IRQ is blocked inside
	// WaitInterrupt and only observes shutdown via win.RequestShutdown().
	win, fs, commands, mb := newTestLoopDeps(t)

	done := make(chan struct{})
	go func() {
		runIRQLoop(context.Background(), win, fs, commands, mb, discardLogger())
		close(done)
	}()

	win.RequestShutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runIRQLoop did not return after RequestShutdown")
	}
}

func TestRunIRQLoopDrainsFloppyEventThenShutdown(t *testing.T) {
	win, fs, commands, mb := newTestLoopDeps(t)
	win.PushEvent(device.Event{Kind: device.EventInterrupt, Status: device.Status{
		FloppyIntr: true,
		Floppy:     device.FloppyPosition{Addr: 5, Track: 1, Drive: 0},
	}})
	win.PushEvent(device.Event{Kind: device.EventShutdown})

	done := make(chan struct{})
	go func() {
		runIRQLoop(context.Background(), win, fs, commands, mb, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runIRQLoop did not drain both queued events")
	}
}
