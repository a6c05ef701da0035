package metadata

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

// fallbackBitrate is assumed when a lossy file cannot be parsed at all and
// the duration has to be estimated from its size.
const fallbackBitrate = 192_000 // bits per second

// Duration probes an audio file's playing time in seconds. Probing walks
// real container structures and is noticeably slower than tag reads, which
// is why callers resolve it lazily and cache the result per song.
func (e *Extractor) Duration(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return durationMP3(path)
	case ".flac":
		return durationFLAC(path)
	case ".wav", ".aiff":
		return durationWAV(path)
	case ".m4a", ".aac", ".alac":
		return durationMP4(path)
	default:
		// No structural parser for this container; estimate from size.
		return estimateFromSize(path, fallbackBitrate)
	}
}

// durationMP3 sums frame durations. If not a single frame decodes, the
// file is likely damaged and a bitrate estimate is the best we can do.
func durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var frame mp3.Frame
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return estimateFromSize(path, fallbackBitrate)
			}
			break // partial decode, use what we have
		}
		total += frame.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// durationFLAC reads sample count and rate from the STREAMINFO block.
func durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	info := stream.Info
	if info.NSamples == 0 || info.SampleRate == 0 {
		return 0, fmt.Errorf("flac stream missing sample info")
	}
	return int(float64(info.NSamples)/float64(info.SampleRate) + 0.5), nil
}

// durationWAV derives the duration from the header and PCM byte count.
func durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if decoder.SampleRate == 0 || decoder.BitDepth == 0 || decoder.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	const headerSize = 44
	pcmBytes := stat.Size() - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	frameSize := int64(decoder.BitDepth/8) * int64(decoder.NumChans)
	if frameSize <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	return int(float64(pcmBytes/frameSize)/float64(decoder.SampleRate) + 0.5), nil
}

// durationMP4 scans the atom tree for the mvhd header, which carries the
// movie timescale and duration. A minimal manual scan keeps the MP4
// dependency surface at zero.
func durationMP4(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if string(head[4:8]) == "moov" {
			return scanMoov(f, int64(size)-8)
		}
		if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
}

func scanMoov(f *os.File, limit int64) (int, error) {
	head := make([]byte, 8)
	for read := int64(0); read < limit; {
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		if size < 8 {
			return 0, fmt.Errorf("invalid sub-atom size")
		}
		if string(head[4:8]) == "mvhd" {
			return readMvhd(f)
		}
		if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
			return 0, err
		}
		read += int64(size)
	}
	return 0, fmt.Errorf("mvhd atom not found")
}

func readMvhd(f *os.File) (int, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(f, version); err != nil {
		return 0, err
	}
	// Version 1 atoms use 64-bit timestamps and duration.
	var skip int64 = 3 + 4 + 4 // flags + creation/modification times
	durBytes := 4
	if version[0] == 1 {
		skip = 3 + 8 + 8
		durBytes = 8
	}
	if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
		return 0, err
	}
	buf := make([]byte, 4+durBytes)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, err
	}
	timescale := binary.BigEndian.Uint32(buf[0:4])
	var units uint64
	if durBytes == 8 {
		units = binary.BigEndian.Uint64(buf[4:12])
	} else {
		units = uint64(binary.BigEndian.Uint32(buf[4:8]))
	}
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	return int(float64(units)/float64(timescale) + 0.5), nil
}

// estimateFromSize is the last-resort duration estimate from file size at
// an assumed bitrate.
func estimateFromSize(path string, bitrate int) (int, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return int((stat.Size() * 8) / int64(bitrate)), nil
}
