/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chainerrors

import (
	"errors"
	"fmt"
)

const (
	// ErrNotFound is used when a document version, metadata record or proof does not exist at its source.
	ErrNotFound = chainError("not found")
	// ErrTransport is used when a fetch failed for a network reason (including an exhausted retry budget).
	ErrTransport = chainError("transport error")
	// ErrTimeout is used when a fetch did not complete within its time bound.
	ErrTimeout = chainError("timeout")
	// ErrCanceled is used when a verification run was canceled by its caller.
	ErrCanceled = chainError("canceled")
	// ErrMalformed is used when a payload could not be decoded or does not match its schema.
	ErrMalformed = chainError("malformed payload")
	// ErrMissingServiceEndpoint is used when a document does not declare a usable update service.
	ErrMissingServiceEndpoint = chainError("missing update service endpoint")
	// ErrEndpointUnreachable is used when the proof collection could not be fetched from the update service.
	ErrEndpointUnreachable = chainError("update service endpoint unreachable")
	// ErrUnknownSigner is used when the signer named by a proof is not declared by the preceding version.
	ErrUnknownSigner = chainError("unknown signer")
	// ErrInvalidSignature is used when a proof's signature does not verify.
	ErrInvalidSignature = chainError("invalid signature")
	// ErrIntegrityMismatch is used when a document's content hash differs from the hash its proof attests.
	ErrIntegrityMismatch = chainError("integrity mismatch")
	// ErrNonContiguousVersion is used when version numbers do not follow each other.
	ErrNonContiguousVersion = chainError("non-contiguous version")
)

// kinds is ordered from most to least specific; KindOf returns the first match.
var kinds = []error{
	ErrIntegrityMismatch,
	ErrInvalidSignature,
	ErrUnknownSigner,
	ErrNonContiguousVersion,
	ErrMissingServiceEndpoint,
	ErrEndpointUnreachable,
	ErrMalformed,
	ErrNotFound,
	ErrCanceled,
	ErrTimeout,
	ErrTransport,
}

type chainError string

// Error returns the associated error message.
// This satisfies the built-in error interface.
func (e chainError) Error() string { return string(e) }

// KindOf returns the taxonomy error that err belongs to, or nil if err is not classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}

	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

// VerificationError reports the terminal failure of a verification run.
// Version is the candidate version whose validation failed.
type VerificationError struct {
	Version int
	Kind    error
	Message string
}

// NewVerificationError classifies cause and wraps it for the given version.
// An unclassified cause is reported as a transport error.
func NewVerificationError(version int, cause error) *VerificationError {
	kind := KindOf(cause)
	if kind == nil {
		kind = ErrTransport
	}

	return &VerificationError{Version: version, Kind: kind, Message: cause.Error()}
}

// Error returns the audit line for the failure.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at version %d: %s: %s", e.Version, e.Kind, e.Message)
}

// Unwrap exposes the taxonomy error so callers can use errors.Is.
func (e *VerificationError) Unwrap() error { return e.Kind }
