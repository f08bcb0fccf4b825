package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"andante/internal/library"
	"andante/internal/playback"
)

// commandRequest is the wire form of POST /api/command.
type commandRequest struct {
	Type      string   `json:"type"`
	Position  *float64 `json:"position,omitempty"`
	TrackID   string   `json:"track_id,omitempty"`
	Seq       *uint64  `json:"seq,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// handleCommand admits one control command through the serializer and returns
// the resulting state.
func (ps *PlaybackServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ps.respondWithError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", nil)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "Invalid JSON body", err)
		return
	}

	cmd, ok := ps.buildCommand(w, r, req)
	if !ok {
		return
	}

	state, err := ps.serializer.Submit(r.Context(), cmd)
	if err != nil {
		ps.respondCommandError(w, r, err)
		return
	}
	ps.respondJSON(w, state)
}

// buildCommand translates the wire request into a playback.Command, resolving
// the track for enqueue. Writes the error response itself on failure.
func (ps *PlaybackServer) buildCommand(w http.ResponseWriter, r *http.Request, req commandRequest) (playback.Command, bool) {
	cmd := playback.Command{
		Type:      playback.CommandType(req.Type),
		User:      requestUser(r),
		RequestID: req.RequestID,
	}

	switch cmd.Type {
	case playback.CmdPlay, playback.CmdPause, playback.CmdNext, playback.CmdPrevious:
		// No arguments.
	case playback.CmdSeek:
		if req.Position == nil {
			ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "seek requires position", nil)
			return playback.Command{}, false
		}
		cmd.Position = *req.Position
	case playback.CmdSetVolume:
		if req.Volume == nil {
			ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "set_volume requires volume", nil)
			return playback.Command{}, false
		}
		cmd.Volume = *req.Volume
	case playback.CmdRemove:
		if req.Seq == nil {
			ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "remove requires seq", nil)
			return playback.Command{}, false
		}
		cmd.Seq = *req.Seq
	case playback.CmdEnqueue:
		if req.TrackID == "" {
			ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "enqueue requires track_id", nil)
			return playback.Command{}, false
		}
		track, err := ps.library.Resolve(req.TrackID)
		if err != nil {
			if errors.Is(err, library.ErrTrackNotFound) {
				ps.respondWithError(w, r, http.StatusNotFound, "not_found", "Unknown track id", nil)
			} else {
				ps.respondWithError(w, r, http.StatusInternalServerError, "internal", "Could not resolve track", err)
			}
			return playback.Command{}, false
		}
		cmd.Track = track
	default:
		ps.respondWithError(w, r, http.StatusBadRequest, "malformed_request", "Unknown command type", nil)
		return playback.Command{}, false
	}

	return cmd, true
}

// respondCommandError maps serializer/state-machine errors onto the HTTP
// error taxonomy.
func (ps *PlaybackServer) respondCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, playback.ErrServerBusy):
		ps.respondWithError(w, r, http.StatusServiceUnavailable, "server_busy", "Command queue is full, retry with backoff", nil)
	case errors.Is(err, playback.ErrNoTrackSelected):
		ps.respondWithError(w, r, http.StatusConflict, "no_track_selected", "No track is selected", nil)
	case errors.Is(err, playback.ErrInvalidCommand):
		ps.respondWithError(w, r, http.StatusConflict, "invalid_command", "Command does not apply to the current state", nil)
	default:
		ps.respondWithError(w, r, http.StatusInternalServerError, "internal", "Command failed", err)
	}
}

// handleGetPlayerState returns the current state snapshot with live position.
func (ps *PlaybackServer) handleGetPlayerState(w http.ResponseWriter, r *http.Request) {
	ps.respondJSON(w, ps.serializer.Current())
}

// handleGetTracks returns the library listing.
func (ps *PlaybackServer) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := ps.library.Tracks()
	if err != nil {
		ps.respondWithError(w, r, http.StatusInternalServerError, "internal", "Error listing tracks", err)
		return
	}
	ps.respondJSON(w, tracks)
}

// handleMe returns the authenticated user.
func (ps *PlaybackServer) handleMe(w http.ResponseWriter, r *http.Request) {
	ps.respondJSON(w, map[string]string{"username": requestUser(r)})
}

// handleHealthCheck responds with liveness info.
func (ps *PlaybackServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ps.respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"subscribers": ps.hub.Subscribers(),
	})
}
