// Package webrtc implements the transport collaborator on pion: an
// answering mock peer that feeds the connection abstraction, and the
// external connection factory proxy steps negotiate through.
package webrtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// EncodeSDP serializes a session description to the {"type","sdp"} JSON
// wire form used across the admin boundary.
func EncodeSDP(desc *webrtc.SessionDescription) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("no session description")
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSDP parses the {"type","sdp"} JSON wire form.
func DecodeSDP(s string) (*webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(s), &desc); err != nil {
		return nil, fmt.Errorf("parsing session description: %w", err)
	}
	if desc.SDP == "" {
		return nil, fmt.Errorf("session description has no sdp")
	}
	return &desc, nil
}
