// Package library is a read-only view over the music directory. Logical
// track ids are stable digests of the library-relative path; resolution
// (size, MIME type, tags, best-effort duration) happens on first lookup and
// is cached for the lifetime of the process.
package library

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"andante/pkg/models"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"
)

// ErrTrackNotFound is returned when a track id does not resolve to a file.
var ErrTrackNotFound = errors.New("track not found")

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
}

// Store resolves logical track identifiers to files in the library.
type Store struct {
	root             string
	supportedFormats []string
	logger           *logrus.Logger

	mutex  sync.RWMutex
	index  map[string]string        // track id -> absolute path
	tracks map[string]*models.Track // track id -> resolved metadata
}

// NewStore creates a store rooted at dir. The directory must exist.
func NewStore(dir string, supportedFormats []string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat library path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library path %s is not a directory", abs)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Store{
		root:             abs,
		supportedFormats: supportedFormats,
		logger:           logger,
		tracks:           make(map[string]*models.Track),
	}, nil
}

// Root returns the absolute library path.
func (s *Store) Root() string {
	return s.root
}

// IsAudioFile reports whether path has one of the supported extensions.
func (s *Store) IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range s.supportedFormats {
		if ext == f {
			return true
		}
	}
	return false
}

// TrackID returns the stable identifier for a library-relative path.
func TrackID(relPath string) string {
	sum := md5.Sum([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the metadata for a track id, extracting and caching it on
// first lookup.
func (s *Store) Resolve(id string) (models.Track, error) {
	s.mutex.RLock()
	if t, ok := s.tracks[id]; ok {
		s.mutex.RUnlock()
		return *t, nil
	}
	s.mutex.RUnlock()

	path, err := s.pathFor(id)
	if err != nil {
		return models.Track{}, err
	}

	track, err := s.extract(id, path)
	if err != nil {
		return models.Track{}, err
	}

	s.mutex.Lock()
	s.tracks[id] = &track
	s.mutex.Unlock()
	return track, nil
}

// Open returns an open file handle for a track along with its metadata. The
// caller owns the handle and must close it.
func (s *Store) Open(id string) (*os.File, models.Track, error) {
	track, err := s.Resolve(id)
	if err != nil {
		return nil, models.Track{}, err
	}
	f, err := os.Open(track.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.Invalidate()
			return nil, models.Track{}, ErrTrackNotFound
		}
		return nil, models.Track{}, fmt.Errorf("failed to open %s: %w", track.FilePath, err)
	}
	return f, track, nil
}

// Tracks resolves and returns every track in the library, sorted by artist,
// album and track number.
func (s *Store) Tracks() ([]models.Track, error) {
	index, err := s.currentIndex()
	if err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(index))
	for id := range index {
		t, err := s.Resolve(id)
		if err != nil {
			s.logger.WithField("track_id", id).WithError(err).Warn("Skipping unresolvable track")
			continue
		}
		tracks = append(tracks, t)
	}

	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.Artist != b.Artist {
			return a.Artist < b.Artist
		}
		if a.Album != b.Album {
			return a.Album < b.Album
		}
		if a.TrackNumber != b.TrackNumber {
			return a.TrackNumber < b.TrackNumber
		}
		return a.Title < b.Title
	})
	return tracks, nil
}

// Invalidate discards the path index and resolved metadata. The next lookup
// rebuilds the view from the filesystem. Called by the watcher when the
// library changes.
func (s *Store) Invalidate() {
	s.mutex.Lock()
	s.index = nil
	s.tracks = make(map[string]*models.Track)
	s.mutex.Unlock()
}

// pathFor maps an id to its absolute path via the index.
func (s *Store) pathFor(id string) (string, error) {
	index, err := s.currentIndex()
	if err != nil {
		return "", err
	}
	path, ok := index[id]
	if !ok {
		return "", ErrTrackNotFound
	}
	return path, nil
}

// currentIndex returns the id -> path index, building it on demand.
func (s *Store) currentIndex() (map[string]string, error) {
	s.mutex.RLock()
	if s.index != nil {
		index := s.index
		s.mutex.RUnlock()
		return index, nil
	}
	s.mutex.RUnlock()

	index := make(map[string]string)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.IsAudioFile(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		index[TrackID(rel)] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk library: %w", err)
	}

	s.mutex.Lock()
	s.index = index
	s.mutex.Unlock()

	s.logger.WithField("tracks", len(index)).Debug("Library index built")
	return index, nil
}

// extract reads size, MIME type, tags and best-effort duration for one file.
func (s *Store) extract(id, path string) (models.Track, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Track{}, ErrTrackNotFound
		}
		return models.Track{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	track := models.Track{
		ID:       id,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Artist:   "Unknown Artist",
		Album:    "Unknown Album",
		MIMEType: ContentType(path),
		FilePath: path,
		FileSize: stat.Size(),
	}

	if d, err := probeDuration(path); err == nil {
		track.Duration = d
	} else {
		s.logger.WithField("path", path).WithError(err).Debug("Duration unknown")
	}

	f, err := os.Open(path)
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		s.logger.WithField("path", path).WithError(err).Debug("No embedded tags, using filename")
		return track, nil
	}

	if t := meta.Title(); t != "" {
		track.Title = t
	}
	if a := meta.Artist(); a != "" {
		track.Artist = a
	}
	if a := meta.Album(); a != "" {
		track.Album = a
	}
	track.TrackNumber, _ = meta.Track()
	return track, nil
}

// ContentType maps a file extension to its MIME type.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}
