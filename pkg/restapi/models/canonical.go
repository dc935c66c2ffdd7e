/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strings"

	"github.com/trustbloc/didchain/pkg/chainerrors"
)

// CanonicalBytes returns the single encoding of a document version used as hashing input and as the served body:
// struct field order, no insignificant whitespace, no HTML escaping.
func CanonicalBytes(doc *DocumentVersion) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode document version: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ContentHash returns the lowercase hex SHA-256 of the canonical encoding of doc.
func ContentHash(doc *DocumentVersion) (string, error) {
	b, err := CanonicalBytes(doc)
	if err != nil {
		return "", err
	}

	return HashBytes(b), nil
}

// ReceivedHash returns the hash of the exact body doc was parsed from. A document built in memory hashes
// its canonical encoding.
func ReceivedHash(doc *DocumentVersion) (string, error) {
	if doc.received == nil {
		return ContentHash(doc)
	}

	return HashBytes(doc.received), nil
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// ParseDocumentVersion strictly decodes and validates a document version served for the given version number.
func ParseDocumentVersion(data []byte, version int) (*DocumentVersion, error) {
	doc := &DocumentVersion{}

	if err := decodeStrict(data, doc); err != nil {
		return nil, fmt.Errorf("%w: document version %d: %s", chainerrors.ErrMalformed, version, err)
	}

	doc.Version = version

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: document version %d: %s", chainerrors.ErrMalformed, version, err)
	}

	canonical, err := CanonicalBytes(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: document version %d: %s", chainerrors.ErrMalformed, version, err)
	}

	if err := requireLossless(data, canonical); err != nil {
		return nil, fmt.Errorf("%w: document version %d: %s", chainerrors.ErrMalformed, version, err)
	}

	doc.received = append([]byte(nil), data...)

	return doc, nil
}

// ParseMetadataRecord strictly decodes a metadata record. Both fields are required.
func ParseMetadataRecord(data []byte) (*MetadataRecord, error) {
	var raw struct {
		VersionID     *int  `json:"versionId"`
		NextVersionID *bool `json:"nextVersionId"`
	}

	if err := decodeStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: metadata record: %s", chainerrors.ErrMalformed, err)
	}

	if raw.VersionID == nil || raw.NextVersionID == nil {
		return nil, fmt.Errorf("%w: metadata record: versionId and nextVersionId are required",
			chainerrors.ErrMalformed)
	}

	record := &MetadataRecord{VersionID: *raw.VersionID, NextVersionID: *raw.NextVersionID}

	if err := requireLosslessValue(data, record); err != nil {
		return nil, fmt.Errorf("%w: metadata record: %s", chainerrors.ErrMalformed, err)
	}

	return record, nil
}

// ParseProofCollection strictly decodes a proof collection.
func ParseProofCollection(data []byte) (ProofCollection, error) {
	proofs := ProofCollection{}

	if err := decodeStrict(data, &proofs); err != nil {
		return nil, fmt.Errorf("%w: proof collection: %s", chainerrors.ErrMalformed, err)
	}

	if err := requireLosslessValue(data, proofs); err != nil {
		return nil, fmt.Errorf("%w: proof collection: %s", chainerrors.ErrMalformed, err)
	}

	for version, token := range proofs {
		if version < 2 {
			return nil, fmt.Errorf("%w: proof collection: no proof can exist for version %d",
				chainerrors.ErrMalformed, version)
		}

		if token == "" {
			return nil, fmt.Errorf("%w: proof collection: empty proof for version %d",
				chainerrors.ErrMalformed, version)
		}
	}

	return proofs, nil
}

// Validate checks the structural invariants of a document version.
func (d *DocumentVersion) Validate() error {
	if d.ID == "" {
		return errors.New("id is required")
	}

	if len(d.VerificationMethod) == 0 {
		return errors.New("at least one verification method is required")
	}

	declared := make(map[string]struct{}, len(d.VerificationMethod))

	for i := range d.VerificationMethod {
		if err := d.VerificationMethod[i].validate(d.ID); err != nil {
			return fmt.Errorf("verification method %d: %w", i, err)
		}

		declared[d.VerificationMethod[i].ID] = struct{}{}
	}

	for _, ref := range append(append([]string{}, d.Authentication...), d.AssertionMethod...) {
		if _, ok := declared[ref]; !ok {
			return fmt.Errorf("reference %s does not name a declared verification method", ref)
		}
	}

	for i, svc := range d.Service {
		if svc.ID == "" || svc.Type == "" || svc.ServiceEndpoint == "" {
			return fmt.Errorf("service %d: id, type and serviceEndpoint are required", i)
		}

		u, err := url.Parse(svc.ServiceEndpoint)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("service %d: serviceEndpoint %s is not an absolute https URL", i, svc.ServiceEndpoint)
		}
	}

	return nil
}

func (vm *VerificationMethod) validate(docID string) error {
	if vm.ID == "" || vm.Type == "" || vm.Controller == "" {
		return errors.New("id, type and controller are required")
	}

	if !strings.HasPrefix(vm.ID, docID+"#") || vm.Fragment() == "" {
		return fmt.Errorf("id %s is not a fragment of %s", vm.ID, docID)
	}

	if vm.PublicKeyJwk.Key == nil || !vm.PublicKeyJwk.Valid() {
		return errors.New("publicKeyJwk is missing or invalid")
	}

	if !vm.PublicKeyJwk.IsPublic() {
		return errors.New("publicKeyJwk must not contain private key material")
	}

	return nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}

	return nil
}

func requireLosslessValue(data []byte, decoded interface{}) error {
	encoded, err := json.Marshal(decoded)
	if err != nil {
		return err
	}

	return requireLossless(data, encoded)
}

// requireLossless rejects a body whose members do not survive typed decoding unchanged: duplicate names,
// names matched only case-insensitively, and members the typed value drops. Whitespace, member order and
// string escaping are not checked here; they change the received hash instead.
func requireLossless(data, encoded []byte) error {
	received, err := decodeTree(data)
	if err != nil {
		return err
	}

	expected, err := decodeTree(encoded)
	if err != nil {
		return err
	}

	if !reflect.DeepEqual(received, expected) {
		return errors.New("body carries members that do not match the decoded value")
	}

	return nil
}

func decodeTree(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return readValue(dec)
}

func readValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch tok {
	case json.Delim('{'):
		object := map[string]interface{}{}

		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil, err
			}

			name, ok := nameTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected member name %v", nameTok)
			}

			if _, exists := object[name]; exists {
				return nil, fmt.Errorf("duplicate member %q", name)
			}

			if object[name], err = readValue(dec); err != nil {
				return nil, err
			}
		}

		if _, err := dec.Token(); err != nil {
			return nil, err
		}

		return object, nil
	case json.Delim('['):
		array := []interface{}{}

		for dec.More() {
			value, err := readValue(dec)
			if err != nil {
				return nil, err
			}

			array = append(array, value)
		}

		if _, err := dec.Token(); err != nil {
			return nil, err
		}

		return array, nil
	default:
		return tok, nil
	}
}
