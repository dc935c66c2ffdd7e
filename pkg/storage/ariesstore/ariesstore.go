/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ariesstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	ariesstorage "github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/storage"
)

const (
	logModuleName = "chain-store"

	// StoreName is the name of the underlying Aries store holding all chain state.
	StoreName = "didchain"
)

var logger = log.New(logModuleName)

type headRecord struct {
	Version    int             `json:"version"`
	PrivateKey json.RawMessage `json:"privateKey"`
}

// Store is a storage.ChainStore over an Aries storage provider (in-memory, MongoDB, ...).
// Documents and proofs are written first and the head record last, so the head record is the commit point.
//
// Aries stores offer no conditional write, so the head check of Commit is only atomic within one Store.
// A database must have a single writing process; replicas sharing it can both commit the same version.
// Use the sqlite store where several writers are required.
type Store struct {
	coreProvider ariesstorage.Provider
	coreStore    ariesstorage.Store
	commitMutex  sync.Mutex
}

// New opens the chain store in the given Aries storage provider.
func New(ariesProvider ariesstorage.Provider) (*Store, error) {
	coreStore, err := ariesProvider.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", StoreName, err)
	}

	return &Store{coreProvider: ariesProvider, coreStore: coreStore}, nil
}

// Head returns the committed head of identifier.
func (s *Store) Head(ctx context.Context, identifier string) (*storage.Head, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	headBytes, err := s.coreStore.Get(headKey(identifier))
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return &storage.Head{}, nil
		}

		return nil, fmt.Errorf("failed to read head of %s: %w", identifier, err)
	}

	var record headRecord

	if err = json.Unmarshal(headBytes, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal head of %s: %w", identifier, err)
	}

	return &storage.Head{Version: record.Version, PrivateKey: record.PrivateKey}, nil
}

// Commit writes the document and proof of ext in one batch, then moves the head.
// Entries written by a batch whose head update never happened are invisible and overwritten by the next commit.
func (s *Store) Commit(ctx context.Context, ext *storage.Extension) error {
	s.commitMutex.Lock()
	defer s.commitMutex.Unlock()

	head, err := s.Head(ctx, ext.Identifier)
	if err != nil {
		return err
	}

	if ext.Version != head.Version+1 {
		return fmt.Errorf("%w: head of %s is %d, got version %d", storage.ErrConflict,
			ext.Identifier, head.Version, ext.Version)
	}

	operations := []ariesstorage.Operation{{Key: documentKey(ext.Identifier, ext.Version), Value: ext.Document}}

	if ext.Proof != "" {
		operations = append(operations, ariesstorage.Operation{
			Key:   proofKey(ext.Identifier, ext.Version),
			Value: []byte(ext.Proof),
		})
	}

	if err = s.coreStore.Batch(operations); err != nil {
		return fmt.Errorf("failed to store version %d of %s: %w", ext.Version, ext.Identifier, err)
	}

	headBytes, err := json.Marshal(headRecord{Version: ext.Version, PrivateKey: ext.PrivateKey})
	if err != nil {
		return fmt.Errorf("failed to marshal head of %s: %w", ext.Identifier, err)
	}

	if err = s.coreStore.Put(headKey(ext.Identifier), headBytes); err != nil {
		return fmt.Errorf("failed to move head of %s to %d: %w", ext.Identifier, ext.Version, err)
	}

	logger.Debugf("Committed version %d of %s", ext.Version, ext.Identifier)

	return nil
}

// Document returns a committed document version.
func (s *Store) Document(ctx context.Context, identifier string, version int) ([]byte, error) {
	head, err := s.Head(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if version < 1 || version > head.Version {
		return nil, storage.ErrValueNotFound
	}

	documentBytes, err := s.coreStore.Get(documentKey(identifier, version))
	if err != nil {
		if errors.Is(err, ariesstorage.ErrDataNotFound) {
			return nil, storage.ErrValueNotFound
		}

		return nil, fmt.Errorf("failed to read version %d of %s: %w", version, identifier, err)
	}

	return documentBytes, nil
}

// Proofs returns the committed proofs of identifier.
func (s *Store) Proofs(ctx context.Context, identifier string) (map[int]string, error) {
	head, err := s.Head(ctx, identifier)
	if err != nil {
		return nil, err
	}

	proofs := make(map[int]string)

	if head.Version < 2 {
		return proofs, nil
	}

	keys := make([]string, 0, head.Version-1)
	for version := 2; version <= head.Version; version++ {
		keys = append(keys, proofKey(identifier, version))
	}

	values, err := s.coreStore.GetBulk(keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read proofs of %s: %w", identifier, err)
	}

	for i, value := range values {
		if value == nil {
			return nil, fmt.Errorf("proof for committed version %d of %s is missing", i+2, identifier)
		}

		proofs[i+2] = string(value)
	}

	return proofs, nil
}

// Close closes the underlying provider.
func (s *Store) Close() error {
	return s.coreProvider.Close()
}

func headKey(identifier string) string {
	return identifier + "|head"
}

func documentKey(identifier string, version int) string {
	return fmt.Sprintf("%s|doc|%d", identifier, version)
}

func proofKey(identifier string, version int) string {
	return fmt.Sprintf("%s|proof|%d", identifier, version)
}
