package library

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestLibrary(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()

	files := map[string][]byte{
		"one.mp3":        []byte("not really audio, but bytes all the same"),
		"two.flac":       []byte("flac-ish"),
		"album/three.mp3": []byte("deeper"),
		"notes.txt":      []byte("ignored"),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	store, err := NewStore(dir, []string{".mp3", ".flac", ".wav", ".m4a"})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store, dir
}

func TestTracksListsOnlyAudioFiles(t *testing.T) {
	store, _ := newTestLibrary(t)

	tracks, err := store.Tracks()
	if err != nil {
		t.Fatalf("Tracks failed: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("Expected 3 tracks, got %d", len(tracks))
	}
	for _, track := range tracks {
		if track.ID == "" || track.FilePath == "" {
			t.Errorf("Incomplete track: %+v", track)
		}
	}
}

func TestResolveByStableID(t *testing.T) {
	store, _ := newTestLibrary(t)

	id := TrackID("one.mp3")
	track, err := store.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Tagless files fall back to the filename.
	if track.Title != "one" {
		t.Errorf("Expected title 'one', got %q", track.Title)
	}
	if track.Artist != "Unknown Artist" {
		t.Errorf("Expected artist fallback, got %q", track.Artist)
	}
	if track.MIMEType != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %q", track.MIMEType)
	}
	if track.Duration != 0 {
		t.Errorf("Unparsable file should have duration 0, got %d", track.Duration)
	}

	// Nested paths get their own stable id.
	nested, err := store.Resolve(TrackID("album/three.mp3"))
	if err != nil {
		t.Fatalf("Resolve of nested track failed: %v", err)
	}
	if nested.Title != "three" {
		t.Errorf("Expected title 'three', got %q", nested.Title)
	}
}

func TestResolveUnknownID(t *testing.T) {
	store, _ := newTestLibrary(t)

	if _, err := store.Resolve("deadbeef"); err != ErrTrackNotFound {
		t.Fatalf("Expected ErrTrackNotFound, got %v", err)
	}
}

func TestOpenReturnsReadableHandle(t *testing.T) {
	store, _ := newTestLibrary(t)

	f, track, err := store.Open(TrackID("one.mp3"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if stat.Size() != track.FileSize {
		t.Errorf("Size mismatch: handle %d vs track %d", stat.Size(), track.FileSize)
	}
}

func TestInvalidatePicksUpNewFiles(t *testing.T) {
	store, dir := newTestLibrary(t)

	if _, err := store.Tracks(); err != nil {
		t.Fatalf("Tracks failed: %v", err)
	}

	path := filepath.Join(dir, "four.wav")
	if err := os.WriteFile(path, []byte("wavish"), 0o644); err != nil {
		t.Fatalf("Failed to write new file: %v", err)
	}

	// The cached view does not see the file until invalidated.
	if _, err := store.Resolve(TrackID("four.wav")); err != ErrTrackNotFound {
		t.Fatalf("Expected stale view to miss new file, got %v", err)
	}

	store.Invalidate()
	if _, err := store.Resolve(TrackID("four.wav")); err != nil {
		t.Fatalf("Resolve after invalidate failed: %v", err)
	}
}

func TestOpenMissingFileInvalidates(t *testing.T) {
	store, dir := newTestLibrary(t)

	id := TrackID("one.mp3")
	if _, err := store.Resolve(id); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "one.mp3")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, _, err := store.Open(id); err != ErrTrackNotFound {
		t.Fatalf("Expected ErrTrackNotFound for deleted file, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.FLAC": "audio/flac",
		"a.wav":  "audio/wav",
		"a.m4a":  "audio/mp4",
		"a.ogg":  "audio/ogg",
		"a.xyz":  "application/octet-stream",
	}
	for path, want := range cases {
		if got := ContentType(path); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
