package playback

import (
	"errors"
	"time"

	"andante/pkg/models"
)

// Status describes what the player is currently doing.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// Command errors surfaced to clients. The state is never modified when one of
// these is returned.
var (
	ErrNoTrackSelected = errors.New("no track selected")
	ErrInvalidCommand  = errors.New("invalid command")
	ErrServerBusy      = errors.New("server busy")
)

// QueueEntry is one track's position in the playback queue. Sequence numbers
// are strictly increasing for the lifetime of the machine and never reused.
type QueueEntry struct {
	Seq   uint64       `json:"seq"`
	Track models.Track `json:"track"`
}

// State is the authoritative playback state. Position is the position at the
// time of the last accepted command; while playing, elapsed wall time is added
// at read time (see Snapshot) rather than by a background clock.
type State struct {
	Queue     []QueueEntry `json:"queue"`
	Index     int          `json:"index"` // -1 when no entry is selected
	Position  float64      `json:"position"`
	Status    Status       `json:"status"`
	Volume    float64      `json:"volume"`
	Revision  uint64       `json:"revision"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Current returns the selected queue entry, or nil.
func (s *State) Current() *QueueEntry {
	if s.Index < 0 || s.Index >= len(s.Queue) {
		return nil
	}
	return &s.Queue[s.Index]
}

// Snapshot returns a deep copy of the state with the live position computed
// for the given instant.
func (s *State) Snapshot(now time.Time) State {
	out := *s
	out.Queue = make([]QueueEntry, len(s.Queue))
	copy(out.Queue, s.Queue)
	out.Position = s.positionAt(now)
	return out
}

// positionAt computes the live position: the stored position plus the time
// elapsed since the last change while playing, clamped to the track duration
// when it is known.
func (s *State) positionAt(now time.Time) float64 {
	pos := s.Position
	if s.Status == StatusPlaying {
		pos += now.Sub(s.UpdatedAt).Seconds()
	}
	if cur := s.Current(); cur != nil && cur.Track.Duration > 0 {
		if d := float64(cur.Track.Duration); pos > d {
			pos = d
		}
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// CommandType enumerates the closed set of playback commands.
type CommandType string

const (
	CmdPlay      CommandType = "play"
	CmdPause     CommandType = "pause"
	CmdSeek      CommandType = "seek"
	CmdNext      CommandType = "next"
	CmdPrevious  CommandType = "previous"
	CmdEnqueue   CommandType = "enqueue"
	CmdRemove    CommandType = "remove"
	CmdSetVolume CommandType = "set_volume"
)

// Command is a single control request. Exactly one of the argument fields is
// meaningful depending on Type. User and RequestID are carried for auditing
// and idempotent retry detection; they do not affect the transition itself.
type Command struct {
	Type      CommandType
	Position  float64      // Seek
	Track     models.Track // Enqueue (resolved by the caller)
	Seq       uint64       // Remove
	Volume    float64      // SetVolume
	User      string
	RequestID string
}

// Machine owns the playback state. It is not safe for concurrent use; the
// Serializer guarantees a single writer.
type Machine struct {
	state   State
	nextSeq uint64
}

// NewMachine returns a machine in the stopped state with an empty queue.
func NewMachine() *Machine {
	return &Machine{
		state: State{
			Index:     -1,
			Status:    StatusStopped,
			Volume:    1.0,
			UpdatedAt: time.Now(),
		},
		nextSeq: 1,
	}
}

// Restore seeds the machine with a previously saved state. Status is forced
// to stopped: playback never resumes without an explicit command. Sequence
// numbering continues above the restored entries.
func (m *Machine) Restore(st State) {
	st.Status = StatusStopped
	if st.Volume < 0 || st.Volume > 1 {
		st.Volume = 1.0
	}
	if st.Index >= len(st.Queue) {
		st.Index = len(st.Queue) - 1
	}
	st.UpdatedAt = time.Now()
	m.state = st
	for _, e := range st.Queue {
		if e.Seq >= m.nextSeq {
			m.nextSeq = e.Seq + 1
		}
	}
}

// State returns a snapshot of the current state at the given instant.
func (m *Machine) State(now time.Time) State {
	return m.state.Snapshot(now)
}

// Apply executes one command against the current state. Transitions are
// all-or-nothing: on error the state is unchanged. Commands that change
// nothing (Pause while stopped, Previous at the head of the queue) return the
// current state without bumping the revision.
func (m *Machine) Apply(cmd Command, now time.Time) (State, error) {
	switch cmd.Type {
	case CmdPlay:
		return m.play(now)
	case CmdPause:
		return m.pause(now)
	case CmdSeek:
		return m.seek(cmd.Position, now)
	case CmdNext:
		return m.next(now)
	case CmdPrevious:
		return m.previous(now)
	case CmdEnqueue:
		return m.enqueue(cmd.Track, now)
	case CmdRemove:
		return m.remove(cmd.Seq, now)
	case CmdSetVolume:
		return m.setVolume(cmd.Volume, now)
	default:
		return State{}, ErrInvalidCommand
	}
}

// commit freezes the live position, applies the mutation, bumps the revision
// and stamps the change time.
func (m *Machine) commit(now time.Time, mutate func(s *State)) State {
	m.state.Position = m.state.positionAt(now)
	mutate(&m.state)
	m.state.Revision++
	m.state.UpdatedAt = now
	return m.state.Snapshot(now)
}

func (m *Machine) play(now time.Time) (State, error) {
	if m.state.Index < 0 {
		if len(m.state.Queue) == 0 {
			return State{}, ErrNoTrackSelected
		}
		return m.commit(now, func(s *State) {
			s.Index = 0
			s.Position = 0
			s.Status = StatusPlaying
		}), nil
	}
	if m.state.Status == StatusPlaying {
		return m.state.Snapshot(now), nil
	}
	return m.commit(now, func(s *State) {
		s.Status = StatusPlaying
	}), nil
}

func (m *Machine) pause(now time.Time) (State, error) {
	if m.state.Status != StatusPlaying {
		return m.state.Snapshot(now), nil
	}
	return m.commit(now, func(s *State) {
		s.Status = StatusPaused
	}), nil
}

func (m *Machine) seek(pos float64, now time.Time) (State, error) {
	if m.state.Current() == nil {
		return State{}, ErrNoTrackSelected
	}
	if pos < 0 {
		pos = 0
	}
	if cur := m.state.Current(); cur.Track.Duration > 0 {
		if d := float64(cur.Track.Duration); pos > d {
			pos = d
		}
	}
	st := m.commit(now, func(s *State) {
		s.Position = pos
	})
	return st, nil
}

func (m *Machine) next(now time.Time) (State, error) {
	if m.state.Current() == nil {
		return State{}, ErrNoTrackSelected
	}
	if m.state.Index >= len(m.state.Queue)-1 {
		// Last entry: stop rather than wrap.
		return m.commit(now, func(s *State) {
			s.Status = StatusStopped
			s.Position = 0
		}), nil
	}
	return m.commit(now, func(s *State) {
		s.Index++
		s.Position = 0
	}), nil
}

func (m *Machine) previous(now time.Time) (State, error) {
	if m.state.Current() == nil {
		return State{}, ErrNoTrackSelected
	}
	if m.state.Index == 0 {
		// Head of the queue: no-op, revision unchanged.
		return m.state.Snapshot(now), nil
	}
	return m.commit(now, func(s *State) {
		s.Index--
		s.Position = 0
	}), nil
}

func (m *Machine) enqueue(track models.Track, now time.Time) (State, error) {
	if track.ID == "" {
		return State{}, ErrInvalidCommand
	}
	seq := m.nextSeq
	m.nextSeq++
	return m.commit(now, func(s *State) {
		s.Queue = append(s.Queue, QueueEntry{Seq: seq, Track: track})
	}), nil
}

func (m *Machine) remove(seq uint64, now time.Time) (State, error) {
	idx := -1
	for i, e := range m.state.Queue {
		if e.Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return State{}, ErrInvalidCommand
	}
	return m.commit(now, func(s *State) {
		s.Queue = append(s.Queue[:idx], s.Queue[idx+1:]...)
		switch {
		case idx < s.Index:
			s.Index--
		case idx == s.Index:
			// Removing the current entry behaves like Next: the following
			// entry shifts into this slot; past the end we stop.
			s.Position = 0
			if s.Index >= len(s.Queue) {
				s.Index = len(s.Queue) - 1
				s.Status = StatusStopped
			}
		}
	}), nil
}

func (m *Machine) setVolume(level float64, now time.Time) (State, error) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return m.commit(now, func(s *State) {
		s.Volume = level
	}), nil
}
