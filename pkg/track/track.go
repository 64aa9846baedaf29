// Package track provides the Track domain entity.
package track

import "fmt"

// Track represents one playable audio source.
// Identity is carried by ID; Location is resolved by the resource loader.
type Track struct {
	ID       string // Stable identifier, unique within a session
	Title    string // Display title
	Location string // Resource reference (file path or URI)
	Loop     bool   // Loop seamlessly instead of finishing
}

// Same reports whether both tracks refer to the same audio source.
func (t Track) Same(other Track) bool {
	return t.ID == other.ID
}

// IsZero reports whether the track is the zero value (no track).
func (t Track) IsZero() bool {
	return t.ID == "" && t.Location == ""
}

// String returns a short description for logs.
func (t Track) String() string {
	if t.Title == "" {
		return t.ID
	}
	return fmt.Sprintf("%s (%s)", t.Title, t.ID)
}
