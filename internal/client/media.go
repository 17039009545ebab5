package client

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Dial/internal/domain"
)

// MediaSource acquires the local tracks for a call. Acquisition can fail
// (device busy, permission denied); the orchestrator surfaces that as a
// failed initiate instead of panicking across the UI boundary.
type MediaSource interface {
	Acquire(kind domain.CallKind) ([]webrtc.TrackLocal, error)
	Release()
}

// SampleMedia produces static sample tracks: Opus audio always, VP8 video
// when the call kind asks for it. Feeding the tracks with real captured
// frames is the embedding application's job.
type SampleMedia struct {
	tracks []webrtc.TrackLocal
}

func NewSampleMedia() *SampleMedia {
	return &SampleMedia{}
}

func (m *SampleMedia) Acquire(kind domain.CallKind) ([]webrtc.TrackLocal, error) {
	streamID := "dial-" + uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire audio track: %w", err)
	}
	tracks := []webrtc.TrackLocal{audio}

	if kind == domain.CallVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("acquire video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	m.tracks = tracks
	return tracks, nil
}

func (m *SampleMedia) Release() {
	m.tracks = nil
}
