package library

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// probeDuration returns the track length in whole seconds, best effort.
// Unknown or unparsable files yield an error; callers treat that as 0.
func probeDuration(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3Duration(path)
	case ".flac":
		return flacDuration(path)
	case ".wav":
		return wavDuration(path)
	case ".m4a":
		return m4aDuration(path)
	default:
		return 0, fmt.Errorf("no duration probe for %s", filepath.Ext(path))
	}
}

// mp3Duration sums frame durations. MP3 carries no header-level length, so
// the whole file is walked; partially decodable files use what decoded.
func mp3Duration(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var frame mp3.Frame
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return 0, fmt.Errorf("no decodable mp3 frames: %w", err)
		}
		total += frame.Duration()
		frames++
	}
	return int(total.Seconds() + 0.5), nil
}

// flacDuration reads sample count and rate from the STREAMINFO block.
func flacDuration(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	info := stream.Info
	if info.NSamples == 0 || info.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	return int(float64(info.NSamples)/float64(info.SampleRate) + 0.5), nil
}

// wavDuration derives length from the header and the PCM byte count.
func wavDuration(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, errors.New("invalid wav header")
	}

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	frameBytes := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if frameBytes <= 0 {
		return 0, errors.New("invalid wav sample frame size")
	}
	pcmBytes := stat.Size() - 44 // canonical header size
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	frames := pcmBytes / frameBytes
	return int(float64(frames)/float64(dec.SampleRate) + 0.5), nil
}

// m4aDuration scans top-level MP4 atoms for moov/mvhd and reads the movie
// timescale and duration. Minimal by intent; no MP4 library is pulled in for
// two fields.
func m4aDuration(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var head [8]byte
	for {
		if _, err := io.ReadFull(f, head[:]); err != nil {
			return 0, fmt.Errorf("mvhd atom not found: %w", err)
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		name := string(head[4:8])
		if size < 8 {
			return 0, errors.New("invalid mp4 atom size")
		}
		if name == "moov" {
			return scanMoov(f, size-8)
		}
		if _, err := f.Seek(size-8, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
}

// scanMoov walks the children of a moov atom looking for mvhd.
func scanMoov(f *os.File, remaining int64) (int, error) {
	var head [8]byte
	for remaining >= 8 {
		if _, err := io.ReadFull(f, head[:]); err != nil {
			return 0, err
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		name := string(head[4:8])
		if size < 8 {
			return 0, errors.New("invalid mp4 atom size")
		}
		if name != "mvhd" {
			if _, err := f.Seek(size-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			remaining -= size
			continue
		}

		var version [1]byte
		if _, err := io.ReadFull(f, version[:]); err != nil {
			return 0, err
		}
		// Skip flags plus creation/modification times; 64-bit in version 1.
		skip := int64(3 + 4 + 4)
		if version[0] == 1 {
			skip = 3 + 8 + 8
		}
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return 0, err
		}
		var fields [8]byte
		if _, err := io.ReadFull(f, fields[:]); err != nil {
			return 0, err
		}
		timescale := binary.BigEndian.Uint32(fields[0:4])
		units := binary.BigEndian.Uint32(fields[4:8])
		if timescale == 0 {
			return 0, errors.New("invalid mp4 timescale")
		}
		return int(float64(units)/float64(timescale) + 0.5), nil
	}
	return 0, errors.New("mvhd atom not found in moov")
}
