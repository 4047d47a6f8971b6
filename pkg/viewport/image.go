package viewport

import (
	"encoding/hex"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
	"github.com/zeebo/blake3"
)

// ImageState is a snapshot of the shared image.
type ImageState struct {
	Position protocol.Vector `json:"position"`
	Version  uint64          `json:"version"`
	Digest   string          `json:"digest,omitempty"` // hex BLAKE3-256 of Blob
	Blob     []byte          `json:"-"`
}

// Image holds the authoritative image state. Every change bumps Version.
type Image struct {
	state ImageState
}

// NewImage creates an empty image at the origin, version 0
func NewImage() *Image {
	return &Image{}
}

// State returns the current snapshot. Blob must be treated as read-only.
func (im *Image) State() ImageState {
	return im.state
}

// SetPosition moves the image to an absolute position. A non-finite
// position is refused and leaves the state untouched.
func (im *Image) SetPosition(pos protocol.Vector) bool {
	if !pos.Finite() {
		return false
	}
	im.state.Position = pos
	im.state.Version++
	return true
}

// Translate moves the image by delta. A move whose result overflows is
// refused and leaves the state untouched.
func (im *Image) Translate(delta protocol.Vector) bool {
	return im.SetPosition(im.state.Position.Add(delta))
}

// Replace swaps the image content. It returns false, leaving the version
// untouched, when blob has the same digest as the current content.
func (im *Image) Replace(blob []byte) bool {
	digest := Digest(blob)
	if digest == im.state.Digest {
		return false
	}
	im.state.Blob = blob
	im.state.Digest = digest
	im.state.Version++
	return true
}

// Digest returns the hex BLAKE3-256 digest of blob.
func Digest(blob []byte) string {
	sum := blake3.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
