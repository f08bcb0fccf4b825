package playback

import (
	"testing"
	"time"

	"andante/pkg/models"
)

func testTrack(id string, duration int) models.Track {
	return models.Track{
		ID:       id,
		Title:    "Track " + id,
		Artist:   "Artist",
		Album:    "Album",
		Duration: duration,
		MIMEType: "audio/mpeg",
		FilePath: "/music/" + id + ".mp3",
		FileSize: 1024,
	}
}

func TestMachineTransitions(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("PlayOnEmptyQueue", func(t *testing.T) {
		m := NewMachine()
		if _, err := m.Apply(Command{Type: CmdPlay}, now); err != ErrNoTrackSelected {
			t.Fatalf("Expected ErrNoTrackSelected, got %v", err)
		}
		if rev := m.State(now).Revision; rev != 0 {
			t.Errorf("Rejected command must not bump revision, got %d", rev)
		}
	})

	t.Run("EnqueueDoesNotAutoPlay", func(t *testing.T) {
		m := NewMachine()
		st, err := m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if st.Status != StatusStopped {
			t.Errorf("Expected stopped after enqueue, got %s", st.Status)
		}
		if st.Index != -1 {
			t.Errorf("Expected no selection after enqueue, got index %d", st.Index)
		}
		if len(st.Queue) != 1 || st.Queue[0].Seq != 1 {
			t.Errorf("Unexpected queue: %+v", st.Queue)
		}
	})

	t.Run("PlaySelectsFirstEntry", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		st, err := m.Apply(Command{Type: CmdPlay}, now)
		if err != nil {
			t.Fatalf("Play failed: %v", err)
		}
		if st.Status != StatusPlaying || st.Index != 0 {
			t.Errorf("Expected playing at index 0, got %s index %d", st.Status, st.Index)
		}
	})

	t.Run("PauseFreezesPosition", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		later := now.Add(10 * time.Second)
		st, err := m.Apply(Command{Type: CmdPause}, later)
		if err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if st.Status != StatusPaused {
			t.Errorf("Expected paused, got %s", st.Status)
		}
		if st.Position != 10 {
			t.Errorf("Expected position 10, got %f", st.Position)
		}

		// Position stays frozen while paused.
		if pos := m.State(later.Add(time.Minute)).Position; pos != 10 {
			t.Errorf("Paused position drifted to %f", pos)
		}
	})

	t.Run("PauseWhileStoppedIsNoOp", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		before := m.State(now).Revision
		st, err := m.Apply(Command{Type: CmdPause}, now)
		if err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if st.Revision != before {
			t.Errorf("No-op pause bumped revision %d -> %d", before, st.Revision)
		}
	})

	t.Run("SeekClampsToDuration", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		st, err := m.Apply(Command{Type: CmdSeek, Position: 500}, now)
		if err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if st.Position != 180 {
			t.Errorf("Expected clamp to 180, got %f", st.Position)
		}

		st, _ = m.Apply(Command{Type: CmdSeek, Position: -5}, now)
		if st.Position != 0 {
			t.Errorf("Expected clamp to 0, got %f", st.Position)
		}
	})

	t.Run("SeekKeepsStatus", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)
		st, _ := m.Apply(Command{Type: CmdSeek, Position: 30}, now)
		if st.Status != StatusPlaying {
			t.Errorf("Seek changed status to %s", st.Status)
		}
		if st.Position != 30 {
			t.Errorf("Expected position 30 immediately after seek, got %f", st.Position)
		}
	})

	t.Run("NextAtLastEntryStops", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		st, err := m.Apply(Command{Type: CmdNext}, now)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if st.Status != StatusStopped {
			t.Errorf("Expected stopped at queue end, got %s", st.Status)
		}
		if st.Index != 0 {
			t.Errorf("Expected index to stay at last entry, got %d", st.Index)
		}
	})

	t.Run("PreviousAtFirstEntryIsNoOp", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		before := m.State(now).Revision
		st, err := m.Apply(Command{Type: CmdPrevious}, now)
		if err != nil {
			t.Fatalf("Previous failed: %v", err)
		}
		if st.Revision != before {
			t.Errorf("No-op previous bumped revision %d -> %d", before, st.Revision)
		}
		if st.Index != 0 {
			t.Errorf("Previous at head moved index to %d", st.Index)
		}
	})

	t.Run("RemoveCurrentAdvances", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("b", 200)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		st, err := m.Apply(Command{Type: CmdRemove, Seq: 1}, now)
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if cur := st.Current(); cur == nil || cur.Track.ID != "b" {
			t.Errorf("Expected current to advance to b, got %+v", cur)
		}
		if st.Status != StatusPlaying {
			t.Errorf("Remove of current changed status to %s", st.Status)
		}
	})

	t.Run("RemoveLastCurrentStops", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdPlay}, now)

		st, err := m.Apply(Command{Type: CmdRemove, Seq: 1}, now)
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if st.Status != StatusStopped {
			t.Errorf("Expected stopped after removing last entry, got %s", st.Status)
		}
		if st.Index != -1 {
			t.Errorf("Expected no selection, got index %d", st.Index)
		}
	})

	t.Run("RemoveBeforeCurrentShiftsIndex", func(t *testing.T) {
		m := NewMachine()
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
		m.Apply(Command{Type: CmdEnqueue, Track: testTrack("b", 200)}, now)
		m.Apply(Command{Type: CmdPlay}, now)
		m.Apply(Command{Type: CmdNext}, now)

		st, err := m.Apply(Command{Type: CmdRemove, Seq: 1}, now)
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if cur := st.Current(); cur == nil || cur.Track.ID != "b" {
			t.Errorf("Current should still be b, got %+v", cur)
		}
		if st.Index != 0 {
			t.Errorf("Expected index shift to 0, got %d", st.Index)
		}
	})

	t.Run("RemoveUnknownSeq", func(t *testing.T) {
		m := NewMachine()
		if _, err := m.Apply(Command{Type: CmdRemove, Seq: 42}, now); err != ErrInvalidCommand {
			t.Fatalf("Expected ErrInvalidCommand, got %v", err)
		}
	})

	t.Run("SetVolumeClamps", func(t *testing.T) {
		m := NewMachine()
		st, _ := m.Apply(Command{Type: CmdSetVolume, Volume: 1.7}, now)
		if st.Volume != 1 {
			t.Errorf("Expected clamp to 1, got %f", st.Volume)
		}
		st, _ = m.Apply(Command{Type: CmdSetVolume, Volume: -0.5}, now)
		if st.Volume != 0 {
			t.Errorf("Expected clamp to 0, got %f", st.Volume)
		}
	})
}

func TestLazyPosition(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine()
	m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 60)}, now)
	m.Apply(Command{Type: CmdPlay}, now)

	if pos := m.State(now.Add(15 * time.Second)).Position; pos != 15 {
		t.Errorf("Expected live position 15, got %f", pos)
	}

	// Position never exceeds the known duration.
	if pos := m.State(now.Add(10 * time.Minute)).Position; pos != 60 {
		t.Errorf("Expected clamp at duration 60, got %f", pos)
	}
}

func TestRevisionStrictlyIncreases(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine()

	commands := []Command{
		{Type: CmdEnqueue, Track: testTrack("a", 180)},
		{Type: CmdEnqueue, Track: testTrack("b", 200)},
		{Type: CmdPlay},
		{Type: CmdSeek, Position: 30},
		{Type: CmdSetVolume, Volume: 0.5},
		{Type: CmdNext},
	}

	last := uint64(0)
	for i, cmd := range commands {
		st, err := m.Apply(cmd, now)
		if err != nil {
			t.Fatalf("Command %d failed: %v", i, err)
		}
		if st.Revision != last+1 {
			t.Fatalf("Command %d: expected revision %d, got %d", i, last+1, st.Revision)
		}
		last = st.Revision
	}
}

// The end-to-end scenario from the product behavior checklist.
func TestPlaybackScenario(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine()

	m.Apply(Command{Type: CmdEnqueue, Track: testTrack("a", 180)}, now)
	m.Apply(Command{Type: CmdEnqueue, Track: testTrack("b", 200)}, now)
	st, err := m.Apply(Command{Type: CmdPlay}, now)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if st.Status != StatusPlaying {
		t.Errorf("Expected playing, got %s", st.Status)
	}
	if cur := st.Current(); cur == nil || cur.Track.ID != "a" {
		t.Errorf("Expected current a, got %+v", cur)
	}
	if st.Revision != 3 {
		t.Errorf("Expected revision 3, got %d", st.Revision)
	}

	st, _ = m.Apply(Command{Type: CmdNext}, now)
	if cur := st.Current(); cur == nil || cur.Track.ID != "b" {
		t.Errorf("Expected current b, got %+v", cur)
	}
	if st.Position != 0 {
		t.Errorf("Expected position reset, got %f", st.Position)
	}

	st, _ = m.Apply(Command{Type: CmdSeek, Position: 30}, now)
	if st.Position != 30 {
		t.Errorf("Expected position 30, got %f", st.Position)
	}
	if st.Status != StatusPlaying {
		t.Errorf("Seek changed status to %s", st.Status)
	}
}

func TestRestore(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine()
	m.Restore(State{
		Queue: []QueueEntry{
			{Seq: 7, Track: testTrack("a", 180)},
			{Seq: 9, Track: testTrack("b", 200)},
		},
		Index:    1,
		Position: 42,
		Status:   StatusPlaying, // must be forced back to stopped
		Volume:   0.8,
		Revision: 11,
	})

	st := m.State(now)
	if st.Status != StatusStopped {
		t.Errorf("Restore must not resume playback, got %s", st.Status)
	}
	if st.Position != 42 || st.Volume != 0.8 || st.Index != 1 {
		t.Errorf("Restore lost fields: %+v", st)
	}

	// Sequence numbering continues above restored entries.
	st, err := m.Apply(Command{Type: CmdEnqueue, Track: testTrack("c", 100)}, now)
	if err != nil {
		t.Fatalf("Enqueue after restore failed: %v", err)
	}
	if seq := st.Queue[len(st.Queue)-1].Seq; seq != 10 {
		t.Errorf("Expected next seq 10, got %d", seq)
	}
}
