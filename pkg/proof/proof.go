/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/trustbloc/didchain/pkg/chainerrors"
)

const versionIDParam = "versionId"

// IssuerClaim names the historical key that signed a proof: identifier, version and key fragment.
type IssuerClaim struct {
	Identifier string
	Version    int
	Fragment   string
}

// String encodes the claim as <identifier>?versionId=<version>#<fragment>.
func (c IssuerClaim) String() string {
	return fmt.Sprintf("%s?%s=%d#%s", c.Identifier, versionIDParam, c.Version, c.Fragment)
}

// ParseIssuerClaim decodes an issuer claim produced by IssuerClaim.String.
func ParseIssuerClaim(iss string) (*IssuerClaim, error) {
	hash := strings.LastIndex(iss, "#")
	if hash < 0 || hash == len(iss)-1 {
		return nil, fmt.Errorf("%w: issuer claim %q has no key fragment", chainerrors.ErrMalformed, iss)
	}

	question := strings.Index(iss[:hash], "?")
	if question <= 0 {
		return nil, fmt.Errorf("%w: issuer claim %q has no version selector", chainerrors.ErrMalformed, iss)
	}

	query, err := url.ParseQuery(iss[question+1 : hash])
	if err != nil {
		return nil, fmt.Errorf("%w: issuer claim %q: %s", chainerrors.ErrMalformed, iss, err)
	}

	version, err := strconv.Atoi(query.Get(versionIDParam))
	if err != nil || version < 1 {
		return nil, fmt.Errorf("%w: issuer claim %q has an invalid version", chainerrors.ErrMalformed, iss)
	}

	return &IssuerClaim{Identifier: iss[:question], Version: version, Fragment: iss[hash+1:]}, nil
}

// Sign creates the proof binding subject (a content hash) to the issuer claim, signed with key.
func Sign(key *KeyPair, issuer IssuerClaim, subject string) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key:       jose.JSONWebKey{Key: key.PrivateKey, KeyID: key.Fragment},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("failed to create proof signer: %w", err)
	}

	claims := jwt.Claims{
		Issuer:   issuer.String(),
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign proof: %w", err)
	}

	return token, nil
}

// Token is a decoded, not yet verified, proof.
type Token struct {
	jwt     *jwt.JSONWebToken
	Issuer  *IssuerClaim
	Subject string
}

// Parse decodes a compact proof token and its claims without verifying the signature.
func Parse(raw string) (*Token, error) {
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: proof is not a compact JWS: %s", chainerrors.ErrMalformed, err)
	}

	var claims jwt.Claims

	if err = parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("%w: proof claims: %s", chainerrors.ErrMalformed, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: proof has no subject claim", chainerrors.ErrMalformed)
	}

	issuer, err := ParseIssuerClaim(claims.Issuer)
	if err != nil {
		return nil, err
	}

	return &Token{jwt: parsed, Issuer: issuer, Subject: claims.Subject}, nil
}

// Verify checks the token signature against publicKey. Only ES256 signatures are accepted.
func (t *Token) Verify(publicKey jose.JSONWebKey) error {
	if len(t.jwt.Headers) != 1 || t.jwt.Headers[0].Algorithm != string(jose.ES256) {
		return fmt.Errorf("%w: proof must carry exactly one ES256 signature", chainerrors.ErrInvalidSignature)
	}

	ecKey, ok := publicKey.Key.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signer key is not an EC public key", chainerrors.ErrInvalidSignature)
	}

	var claims jwt.Claims

	if err := t.jwt.Claims(ecKey, &claims); err != nil {
		return fmt.Errorf("%w: %s", chainerrors.ErrInvalidSignature, err)
	}

	return nil
}
