package jukebox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/device"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChanger struct {
	mu    sync.Mutex
	calls []struct {
		Drive  int
		Path   string
		RdOnly bool
	}
	err error
}

func (c *fakeChanger) ChangeFloppy(drive int, path string, rdonly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, struct {
		Drive  int
		Path   string
		RdOnly bool
	}{drive, path, rdonly})
	return nil
}

func (c *fakeChanger) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeChanger) last() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.calls[len(c.calls)-1]
	return last.Drive, last.Path, last.RdOnly
}

func writeCandidates(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	writeCandidates(t, dir, "a.st", "b.msa", "c.mfm", "readme.txt", "d.ST")

	j := &Jukebox{path: dir}
	got, err := j.scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("scan() = %v, want 4 entries (extension match is case-insensitive)", got)
	}
}

func TestTickRoundRobinCyclesDeterministically(t *testing.T) {
	dir := t.TempDir()
	writeCandidates(t, dir, "a.st", "b.st")
	win := device.NewFake()
	changer := &fakeChanger{}
	j := &Jukebox{
		log:     discardLogger(),
		path:    dir,
		random:  false,
		changer: changer,
		win:     win,
	}

	for i := 0; i < 4; i++ {
		j.tick()
	}
	if changer.len() != 4 {
		t.Fatalf("ChangeFloppy called %d times, want 4", changer.len())
	}
	if len(win.ColdResets) != 4 {
		t.Fatalf("ColdReset called %d times, want 4", len(win.ColdResets))
	}
	drive, _, rdonly := changer.last()
	if drive != 0 || rdonly {
		t.Fatalf("last call = (drive=%d, rdonly=%v), want (0, false)", drive, rdonly)
	}
}

func TestTickSkipsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	win := device.NewFake()
	changer := &fakeChanger{}
	j := &Jukebox{log: discardLogger(), path: dir, changer: changer, win: win}

	j.tick()

	if changer.len() != 0 {
		t.Fatalf("ChangeFloppy called on empty directory")
	}
	if len(win.ColdResets) != 0 {
		t.Fatalf("ColdReset called on empty directory")
	}
}

func TestTickSkipsUnreadableDirectory(t *testing.T) {
	win := device.NewFake()
	changer := &fakeChanger{}
	j := &Jukebox{log: discardLogger(), path: filepath.Join(t.TempDir(), "missing"), changer: changer, win: win}

	j.tick()

	if changer.len() != 0 {
		t.Fatalf("ChangeFloppy called despite unreadable directory")
	}
}

func TestSelectImageRandomStaysWithinCandidates(t *testing.T) {
	j := New(&config.Config{JukeboxRandom: true}, nil, nil, discardLogger())
	entries := []string{"a.st", "b.st", "c.st"}
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[j.selectImage(entries)] = true
	}
	for k := range seen {
		found := false
		for _, e := range entries {
			if e == k {
				found = true
			}
		}
		if !found {
			t.Fatalf("selectImage returned %q, not in candidate set", k)
		}
	}
}

func TestRunDisabledWhenTimeoutZero(t *testing.T) {
	j := New(&config.Config{JukeboxTimeout: 0}, &fakeChanger{}, device.NewFake(), discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly when timeout is zero")
	}
}

func TestRunTicksOnSchedule(t *testing.T) {
	dir := t.TempDir()
	writeCandidates(t, dir, "a.st")
	win := device.NewFake()
	changer := &fakeChanger{}
	j := New(&config.Config{
		JukeboxPath:    dir,
		JukeboxTimeout: 1,
	}, changer, win, discardLogger())
	j.timeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for changer.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if changer.len() == 0 {
		t.Fatal("Run did not rotate within deadline")
	}
	cancel()
	<-done
}
