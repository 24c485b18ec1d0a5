package sync

import (
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
)

// Transient marks a remote failure as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrSyncTransient, "remote call failed", err)
}

// Terminal marks a remote failure that retrying cannot fix, such as a
// rejected payload.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrSyncTerminal, "remote rejected item", err)
}

// IsTerminal reports whether err was marked Terminal. Anything else,
// including unclassified errors, is retried.
func IsTerminal(err error) bool {
	return apperrors.Is(err, apperrors.ErrSyncTerminal)
}
