/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storage

import (
	"context"
	"errors"
)

// ErrValueNotFound is used when a document version is not part of the committed chain.
var ErrValueNotFound = errors.New("store does not have a value associated with this key")

// ErrConflict is used when a commit does not extend the current head by exactly one version.
var ErrConflict = errors.New("commit does not extend the current head")

// Head is the mutable part of an identifier's chain state: the version counter and the retained private key.
type Head struct {
	Version    int
	PrivateKey []byte
}

// Extension is everything written by one chain extension. Proof is empty for the genesis version.
type Extension struct {
	Identifier string
	Version    int
	Document   []byte
	Proof      string
	PrivateKey []byte
}

// ChainStore persists issuer chain state.
// Commit must apply an Extension all-or-nothing, and readers must never observe entries past the committed head.
type ChainStore interface {
	// Head returns the committed head of identifier. Version is 0 for an unknown identifier.
	Head(ctx context.Context, identifier string) (*Head, error)

	// Commit durably appends ext. It fails with ErrConflict unless ext.Version is the head version plus one.
	Commit(ctx context.Context, ext *Extension) error

	// Document returns the canonical bytes of a committed document version.
	Document(ctx context.Context, identifier string, version int) ([]byte, error)

	// Proofs returns all committed proofs of identifier keyed by the version they attest.
	Proofs(ctx context.Context, identifier string) (map[int]string, error)

	// Close releases the underlying resources.
	Close() error
}
