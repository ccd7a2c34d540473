package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat string
		wantCodec  string
		wantOK     bool
	}{
		{
			name:       "webm ebml header",
			data:       []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0x00},
			wantFormat: "webm",
			wantCodec:  "vp8",
			wantOK:     true,
		},
		{
			name:       "mp4 ftyp box",
			data:       append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypisom")...),
			wantFormat: "mp4",
			wantCodec:  "h264",
			wantOK:     true,
		},
		{
			name:       "mpeg transport stream sync byte",
			data:       []byte{0x47, 0x40, 0x00, 0x10},
			wantFormat: "mpegts",
			wantCodec:  "h264",
			wantOK:     true,
		},
		{
			name:       "flac marker",
			data:       []byte("fLaC\x00\x00\x00\x22"),
			wantFormat: "flac",
			wantCodec:  "flac",
			wantOK:     true,
		},
		{
			name:       "mp3 with id3 tag",
			data:       []byte("ID3\x04\x00\x00"),
			wantFormat: "mp3",
			wantCodec:  "mp3",
			wantOK:     true,
		},
		{
			name:       "mp3 frame sync",
			data:       []byte{0xFF, 0xFB, 0x90, 0x00},
			wantFormat: "mp3",
			wantCodec:  "mp3",
			wantOK:     true,
		},
		{
			name:       "aac adts frame",
			data:       []byte{0xFF, 0xF1, 0x50, 0x80},
			wantFormat: "adts",
			wantCodec:  "aac",
			wantOK:     true,
		},
		{
			name:       "wav riff header",
			data:       append([]byte("RIFF\x24\x08\x00\x00"), []byte("WAVE")...),
			wantFormat: "wav",
			wantCodec:  "pcm",
			wantOK:     true,
		},
		{
			name:   "unknown signature",
			data:   []byte{0x00, 0x01, 0x02, 0x03},
			wantOK: false,
		},
		{
			name:   "too short to classify",
			data:   []byte{0x4F, 0x67},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := DetectFormat(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantFormat, info.Format)
			assert.Equal(t, tt.wantCodec, info.Codec)
		})
	}
}

func TestDetectFormatMP4Brand(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypmp42")...)
	info, ok := DetectFormat(data)
	require.True(t, ok)
	assert.Equal(t, "mp42", info.Metadata["brand"])
}

func TestDetectFormatTruncatedOgg(t *testing.T) {
	// An Ogg capture pattern with a truncated page identifies the
	// container even when the codec header cannot be parsed.
	info, ok := DetectFormat([]byte("OggS\x00\x02"))
	require.True(t, ok)
	assert.Equal(t, "ogg", info.Format)
	assert.Equal(t, "unknown", info.Codec)
}
