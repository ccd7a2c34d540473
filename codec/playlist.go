package codec

import (
	"fmt"

	"github.com/grafov/m3u8"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// ExportMasterPlaylist renders a quality ladder as an HLS master playlist
// with one variant stream per rung, highest quality last. The URI of each
// variant is derived from the rung name.
//
// This gives the transport layer a ready-made rendition list without the
// core knowing anything about segment delivery.
func ExportMasterPlaylist(ladder *Ladder) (string, error) {
	if ladder == nil || len(ladder.Rungs) == 0 {
		return "", ErrEmptyLadder
	}

	master := m3u8.NewMasterPlaylist()
	for _, rung := range ladder.Rungs {
		chunklist, err := m3u8.NewMediaPlaylist(0, 1)
		if err != nil {
			return "", fmt.Errorf("failed to create variant chunklist: %w", err)
		}

		params := m3u8.VariantParams{
			ProgramId: 1,
			Bandwidth: uint32(rung.Bitrate),
			Name:      rung.Name,
		}
		if rung.Codec != nil {
			params.Codecs = rung.Codec.MIME
		}
		if ladder.Kind == media.KindVideo {
			params.Resolution = fmt.Sprintf("%dx%d", rung.Width, rung.Height)
			params.FrameRate = float64(rung.Framerate)
		}

		master.Append(fmt.Sprintf("%s/index.m3u8", rung.Name), chunklist, params)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ExportMasterPlaylist",
		"variants": len(ladder.Rungs),
	}).Debug("Master playlist exported")

	return master.Encode().String(), nil
}
