// Package model defines the canonical task types shared by the callback receiver, the waiters and
// the workflow pipelines.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Vendor identifies an external AI-processing capability.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Vendor string

const (
	// VendorFaceSwap swaps a face into a target image or video.
	VendorFaceSwap Vendor = "face_swap"
	// VendorLipSync drives a video's mouth movement from an audio track.
	VendorLipSync Vendor = "lip_sync"
	// VendorVoiceClone trains a reusable voice from a sample.
	VendorVoiceClone Vendor = "voice_clone"
	// VendorVoiceTTS synthesizes speech with a (cloned) voice.
	VendorVoiceTTS Vendor = "voice_tts"
	// VendorSongConversion re-sings a song with another voice.
	VendorSongConversion Vendor = "song_conversion"
	// VendorImageGen generates images from a prompt.
	VendorImageGen Vendor = "image_gen"
	// VendorVideoGen generates videos from a prompt or image.
	VendorVideoGen Vendor = "video_gen"
)

var (
	// ErrInvalidVendor indicates an unknown vendor tag.
	ErrInvalidVendor = errors.New("invalid vendor")
	// ErrJobIDRequired indicates a job identity without a job id.
	ErrJobIDRequired = errors.New("job id is required")
)

// AllVendors returns every supported vendor tag.
func AllVendors() []Vendor {
	return []Vendor{
		VendorFaceSwap,
		VendorLipSync,
		VendorVoiceClone,
		VendorVoiceTTS,
		VendorSongConversion,
		VendorImageGen,
		VendorVideoGen,
	}
}

// Valid returns true if the vendor is one of the supported tags.
func (v Vendor) Valid() bool {
	switch v {
	case VendorFaceSwap, VendorLipSync, VendorVoiceClone, VendorVoiceTTS,
		VendorSongConversion, VendorImageGen, VendorVideoGen:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (v Vendor) String() string {
	return string(v)
}

// UnmarshalText implements encoding.TextUnmarshaler so vendors can be parsed from env and JSON.
func (v *Vendor) UnmarshalText(text []byte) error {
	parsed, err := ParseVendor(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVendor normalizes s and returns the matching vendor.
func ParseVendor(s string) (Vendor, error) {
	v := Vendor(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVendor, s)
	}
	return v, nil
}

// JobIdentity uniquely identifies one correlation slot.
type JobIdentity struct {
	JobID  string `json:"jobId"`
	Vendor Vendor `json:"vendor"`
}

// NewJobIdentity builds an identity for jobID and vendor.
func NewJobIdentity(jobID string, vendor Vendor) JobIdentity {
	return JobIdentity{JobID: strings.TrimSpace(jobID), Vendor: vendor}
}

// Validate checks that both halves of the identity are present.
func (id JobIdentity) Validate() error {
	if id.JobID == "" {
		return ErrJobIDRequired
	}
	if !id.Vendor.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVendor, string(id.Vendor))
	}
	return nil
}

// String renders the identity as vendor:jobId.
func (id JobIdentity) String() string {
	return string(id.Vendor) + ":" + id.JobID
}

// NewJobID returns a fresh, never-reused job id.
func NewJobID() string {
	return uuid.NewString()
}
