/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/base58"
	"gopkg.in/square/go-jose.v2"
)

const keyFragmentPrefix = "key-"

type generateKeyFunc func(c elliptic.Curve, rand io.Reader) (*ecdsa.PrivateKey, error)

// KeyPair is the ES256 key pair minted for one document version.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	Fragment   string
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(ecdsa.GenerateKey)
}

func generateKeyPair(generate generateKeyFunc) (*KeyPair, error) {
	privateKey, err := generate(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return newKeyPair(privateKey)
}

func newKeyPair(privateKey *ecdsa.PrivateKey) (*KeyPair, error) {
	fragment, err := KeyFragment(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &KeyPair{PrivateKey: privateKey, Fragment: fragment}, nil
}

// PublicJWK returns the public half of the key pair as a JWK.
func (k *KeyPair) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &k.PrivateKey.PublicKey}
}

// MarshalPrivateJWK serializes the private key for the issuer's key slot.
func (k *KeyPair) MarshalPrivateJWK() ([]byte, error) {
	jwk := jose.JSONWebKey{Key: k.PrivateKey, KeyID: k.Fragment, Algorithm: string(jose.ES256)}

	b, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return b, nil
}

// ParsePrivateJWK restores a key pair from its serialized private JWK.
func ParsePrivateJWK(data []byte) (*KeyPair, error) {
	var jwk jose.JSONWebKey

	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key: %w", err)
	}

	privateKey, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("retained key is not an ECDSA private key")
	}

	return newKeyPair(privateKey)
}

// KeyFragment derives the verification method fragment of a public key from its RFC 7638 thumbprint.
func KeyFragment(publicKey *ecdsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: publicKey}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return keyFragmentPrefix + base58.Encode(thumbprint), nil
}
