package errdefs

import "fmt"

// WarningKind classifies a non-fatal condition. Warnings never change the
// exit code.
type WarningKind string

const (
	// PostInstallWarning: a post-install action failed or was skipped by
	// policy. The bundle is already placed.
	PostInstallWarning WarningKind = "PostInstallWarning"
	// Unverified: the descriptor disabled integrity verification.
	Unverified WarningKind = "Unverified"
	// MutableSource: the source URL can change without the descriptor
	// changing.
	MutableSource WarningKind = "MutableSource"
)

// Warning is a user-visible, non-fatal finding of an operation.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Field   string      `json:"field,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.Field, w.Message)
}
