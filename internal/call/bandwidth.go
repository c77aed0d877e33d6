package call

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// ShapeBandwidth clamps the video section of a session description to at most
// bps bits per second. A lower limit already declared by the peer wins: the
// shaper never raises bandwidth. When a ceiling applies, existing bandwidth
// lines are replaced by a transport-independent (TIAS) and an
// application-specific (AS) line right after the video section's connection
// data. With no ceiling and no existing limit the description passes through
// untouched.
//
// Only the first video section is considered; descriptions with more than one
// video section are not supported.
func ShapeBandwidth(desc webrtc.SessionDescription, bps uint64) (webrtc.SessionDescription, error) {
	if desc.SDP == "" {
		return desc, nil
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return desc, fmt.Errorf("parse session description: %w", err)
	}

	var video *sdp.MediaDescription
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media == "video" {
			video = m
			break
		}
	}
	if video == nil {
		return desc, nil
	}

	limit := bps
	if declared := declaredLimit(video); declared > 0 && (limit == 0 || declared < limit) {
		limit = declared
	}
	if limit == 0 {
		return desc, nil
	}

	// The AS line is in kilobits and rounds up: rounding down would re-read
	// as a lower declared limit and ratchet the ceiling on every pass.
	video.Bandwidth = []sdp.Bandwidth{
		{Type: "TIAS", Bandwidth: limit},
		{Type: "AS", Bandwidth: (limit + 999) / 1000},
	}

	out, err := parsed.Marshal()
	if err != nil {
		return desc, fmt.Errorf("serialize session description: %w", err)
	}
	return webrtc.SessionDescription{Type: desc.Type, SDP: string(out)}, nil
}

// declaredLimit returns the lowest bandwidth already declared on the media
// section in bits per second, or 0 when none is declared.
func declaredLimit(m *sdp.MediaDescription) uint64 {
	var lowest uint64
	for _, b := range m.Bandwidth {
		if b.Experimental {
			continue
		}
		var bits uint64
		switch b.Type {
		case "TIAS":
			bits = b.Bandwidth
		case "AS":
			bits = b.Bandwidth * 1000
		default:
			continue
		}
		if bits > 0 && (lowest == 0 || bits < lowest) {
			lowest = bits
		}
	}
	return lowest
}
