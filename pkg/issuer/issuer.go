/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/didweb"
	"github.com/trustbloc/didchain/pkg/proof"
	"github.com/trustbloc/didchain/pkg/restapi/models"
	"github.com/trustbloc/didchain/pkg/storage"
)

const logModuleName = "didchain-issuer"

var logger = log.New(logModuleName)

// ErrForeignIdentifier is returned for identifiers outside of the issuer's domain.
var ErrForeignIdentifier = errors.New("identifier is not served by this issuer")

// Option configures an Issuer.
type Option func(opts *Issuer)

// WithKeyGenerator replaces the key pair generator.
func WithKeyGenerator(generate func() (*proof.KeyPair, error)) Option {
	return func(opts *Issuer) {
		opts.generateKey = generate
	}
}

// Issuer mints document versions and the proofs chaining them for identifiers under one domain.
type Issuer struct {
	host        string
	store       storage.ChainStore
	generateKey func() (*proof.KeyPair, error)

	// Serialises every read-modify-write of a chain.
	mutex sync.Mutex
}

// New returns an issuer for identifiers under host (host[:port]) backed by store.
func New(host string, store storage.ChainStore, opts ...Option) *Issuer {
	i := &Issuer{host: host, store: store, generateKey: proof.GenerateKeyPair}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// RootIdentifier returns the identifier of the issuer's domain without path segments.
func (i *Issuer) RootIdentifier() string {
	return didweb.New(i.host).String()
}

// Host returns the host the issuer mints identifiers for.
func (i *Issuer) Host() string {
	return i.host
}

// AppendVersion mints the next version of identifier. The document, its proof, the new retained key and the
// version counter are committed together or not at all.
func (i *Issuer) AppendVersion(ctx context.Context, identifier string) (*models.DocumentVersion, error) {
	id, err := i.parse(identifier)
	if err != nil {
		return nil, err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	return i.appendVersion(ctx, id)
}

// EnsureGenesis mints version 1 of identifier unless the chain already exists. It returns the head version.
func (i *Issuer) EnsureGenesis(ctx context.Context, identifier string) (int, error) {
	id, err := i.parse(identifier)
	if err != nil {
		return 0, err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	head, err := i.store.Head(ctx, identifier)
	if err != nil {
		return 0, err
	}

	if head.Version > 0 {
		return head.Version, nil
	}

	doc, err := i.appendVersion(ctx, id)
	if err != nil {
		return 0, err
	}

	return doc.Version, nil
}

func (i *Issuer) appendVersion(ctx context.Context, id *didweb.Identifier) (*models.DocumentVersion, error) {
	identifier := id.String()

	head, err := i.store.Head(ctx, identifier)
	if err != nil {
		return nil, err
	}

	version := head.Version + 1

	keyPair, err := i.generateKey()
	if err != nil {
		return nil, err
	}

	doc := buildDocument(id, version, keyPair)

	docBytes, err := models.CanonicalBytes(doc)
	if err != nil {
		return nil, err
	}

	privateKey, err := keyPair.MarshalPrivateJWK()
	if err != nil {
		return nil, err
	}

	ext := &storage.Extension{
		Identifier: identifier,
		Version:    version,
		Document:   docBytes,
		PrivateKey: privateKey,
	}

	if version > 1 {
		ext.Proof, err = signSuccessor(head, doc.ID, docBytes)
		if err != nil {
			return nil, err
		}
	}

	if err = i.store.Commit(ctx, ext); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", chainerrors.ErrNonContiguousVersion, err)
		}

		return nil, fmt.Errorf("failed to commit version %d of %s: %w", version, identifier, err)
	}

	logger.Infof("Appended version %d of %s", version, identifier)

	return doc, nil
}

// signSuccessor signs the served bytes of the next version with the key retained for the head version.
func signSuccessor(head *storage.Head, identifier string, docBytes []byte) (string, error) {
	signer, err := proof.ParsePrivateJWK(head.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to load key of version %d: %w", head.Version, err)
	}

	return proof.Sign(signer, proof.IssuerClaim{
		Identifier: identifier,
		Version:    head.Version,
		Fragment:   signer.Fragment,
	}, models.HashBytes(docBytes))
}

func buildDocument(id *didweb.Identifier, version int, keyPair *proof.KeyPair) *models.DocumentVersion {
	identifier := id.String()
	methodID := identifier + "#" + keyPair.Fragment

	return &models.DocumentVersion{
		Version: version,
		ID:      identifier,
		VerificationMethod: []models.VerificationMethod{{
			ID:           methodID,
			Type:         models.VerificationMethodType,
			Controller:   identifier,
			PublicKeyJwk: keyPair.PublicJWK(),
		}},
		Authentication:  []string{methodID},
		AssertionMethod: []string{methodID},
		Service: []models.Service{{
			ID:              identifier + "#" + models.UpdateServiceFragment,
			Type:            models.UpdateServiceType,
			ServiceEndpoint: id.ProofsURL(),
		}},
	}
}

// Head returns the committed head version of identifier, 0 when the chain does not exist.
func (i *Issuer) Head(ctx context.Context, identifier string) (int, error) {
	head, err := i.store.Head(ctx, identifier)
	if err != nil {
		return 0, err
	}

	return head.Version, nil
}

// Document returns the canonical bytes of a committed version.
func (i *Issuer) Document(ctx context.Context, identifier string, version int) ([]byte, error) {
	doc, err := i.store.Document(ctx, identifier, version)
	if err != nil {
		if errors.Is(err, storage.ErrValueNotFound) {
			return nil, fmt.Errorf("%w: version %d of %s", chainerrors.ErrNotFound, version, identifier)
		}

		return nil, err
	}

	return doc, nil
}

// Latest returns the head version of identifier and its canonical bytes.
func (i *Issuer) Latest(ctx context.Context, identifier string) (int, []byte, error) {
	head, err := i.Head(ctx, identifier)
	if err != nil {
		return 0, nil, err
	}

	if head == 0 {
		return 0, nil, fmt.Errorf("%w: %s has no versions", chainerrors.ErrNotFound, identifier)
	}

	doc, err := i.Document(ctx, identifier, head)
	if err != nil {
		return 0, nil, err
	}

	return head, doc, nil
}

// Metadata reports whether a committed version has a successor.
func (i *Issuer) Metadata(ctx context.Context, identifier string, version int) (*models.MetadataRecord, error) {
	head, err := i.Head(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if version < 1 || version > head {
		return nil, fmt.Errorf("%w: version %d of %s", chainerrors.ErrNotFound, version, identifier)
	}

	return &models.MetadataRecord{VersionID: version, NextVersionID: version < head}, nil
}

// Proofs returns the proof collection of identifier.
func (i *Issuer) Proofs(ctx context.Context, identifier string) (models.ProofCollection, error) {
	head, err := i.Head(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if head == 0 {
		return nil, fmt.Errorf("%w: %s has no versions", chainerrors.ErrNotFound, identifier)
	}

	proofs, err := i.store.Proofs(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return proofs, nil
}

func (i *Issuer) parse(identifier string) (*didweb.Identifier, error) {
	id, err := didweb.Parse(identifier)
	if err != nil {
		return nil, err
	}

	if id.Host != i.host || id.String() != identifier {
		return nil, fmt.Errorf("%w: %s", ErrForeignIdentifier, identifier)
	}

	return id, nil
}
