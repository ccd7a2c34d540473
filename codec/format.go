package codec

import (
	"bytes"
	"fmt"

	"github.com/pion/opus/pkg/oggreader"
)

// FormatInfo describes a detected container or elementary stream format.
type FormatInfo struct {
	Format   string
	Codec    string
	Metadata map[string]string
}

// DetectFormat identifies the container format of a data prefix by
// signature. Pure function with no side effects; returns false when no
// known signature matches.
//
// Ogg containers are probed with the Opus Ogg reader so that sample rate
// and channel metadata can be surfaced alongside the codec name.
func DetectFormat(data []byte) (FormatInfo, bool) {
	if len(data) < 4 {
		return FormatInfo{}, false
	}

	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return detectOgg(data), true

	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatInfo{Format: "webm", Codec: "vp8"}, true

	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatInfo{
			Format:   "mp4",
			Codec:    "h264",
			Metadata: map[string]string{"brand": string(bytes.TrimRight(data[8:12], "\x00 "))},
		}, true

	case data[0] == 0x47 && (len(data) < 189 || data[188] == 0x47):
		return FormatInfo{Format: "mpegts", Codec: "h264"}, true

	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatInfo{Format: "flac", Codec: "flac"}, true

	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatInfo{Format: "mp3", Codec: "mp3"}, true

	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatInfo{Format: "wav", Codec: "pcm"}, true

	case data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		return FormatInfo{Format: "adts", Codec: "aac"}, true

	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatInfo{Format: "mp3", Codec: "mp3"}, true
	}

	return FormatInfo{}, false
}

// detectOgg probes an Ogg container for an Opus stream. Falls back to a
// bare Ogg identification when the header is not Opus.
func detectOgg(data []byte) FormatInfo {
	_, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return FormatInfo{Format: "ogg", Codec: "unknown"}
	}

	return FormatInfo{
		Format: "ogg",
		Codec:  "opus",
		Metadata: map[string]string{
			"sample_rate": fmt.Sprintf("%d", header.SampleRate),
			"channels":    fmt.Sprintf("%d", header.Channels),
			"pre_skip":    fmt.Sprintf("%d", header.PreSkip),
		},
	}
}
