/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package models

import (
	"strings"

	"gopkg.in/square/go-jose.v2"
)

const (
	// DIDWebPrefix is the method prefix of every identifier handled by this module.
	DIDWebPrefix = "did:web:"

	// UpdateServiceType is the service type under which a document publishes its proof collection endpoint.
	UpdateServiceType = "VersionUpdateProofs"

	// VerificationMethodType is the type of every verification method minted by the issuer.
	VerificationMethodType = "JsonWebKey2020"

	// UpdateServiceFragment is the fragment of the update service id.
	UpdateServiceFragment = "update"
)

// DocumentVersion represents one immutable version of an identity document.
// Version is carried by the version selector of the request and is not part of the JSON body.
type DocumentVersion struct {
	Version            int                  `json:"-"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Service            []Service            `json:"service"`

	// received holds the body the document was decoded from, if any.
	received []byte
}

// VerificationMethod represents a public key declared by a document version.
type VerificationMethod struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Controller   string          `json:"controller"`
	PublicKeyJwk jose.JSONWebKey `json:"publicKeyJwk"`
}

// Service represents a service descriptor.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// MetadataRecord tells whether a successor of a version exists.
type MetadataRecord struct {
	VersionID     int  `json:"versionId"`
	NextVersionID bool `json:"nextVersionId"`
}

// ProofCollection maps a version number V (V >= 2) to the compact JWS attesting DocumentVersion(V).
type ProofCollection map[int]string

// Fragment returns the key fragment of the verification method id (the part after '#').
func (vm *VerificationMethod) Fragment() string {
	return fragmentOf(vm.ID)
}

// VerificationMethodByFragment finds the verification method with the given key fragment.
func (d *DocumentVersion) VerificationMethodByFragment(fragment string) (*VerificationMethod, bool) {
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].Fragment() == fragment {
			return &d.VerificationMethod[i], true
		}
	}

	return nil, false
}

// UpdateService returns the update service descriptor, if the document declares one.
func (d *DocumentVersion) UpdateService() (*Service, bool) {
	for i := range d.Service {
		if d.Service[i].Type == UpdateServiceType {
			return &d.Service[i], true
		}
	}

	return nil, false
}

func fragmentOf(id string) string {
	i := strings.LastIndex(id, "#")
	if i < 0 {
		return ""
	}

	return id[i+1:]
}
