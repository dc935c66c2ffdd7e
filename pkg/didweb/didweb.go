/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didweb

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/restapi/models"
)

const (
	// WellKnownPath is the discovery path of an identifier without path segments.
	WellKnownPath = ".well-known"

	// DocumentFile is the file name of a document version.
	DocumentFile = "did.json"

	// MetadataFile is the file name of a metadata record.
	MetadataFile = "metadata.json"

	// ProofsFile is the file name of the proof collection.
	ProofsFile = "proofs.json"

	// VersionSelector is the query parameter selecting a version.
	VersionSelector = "versionId"
)

// Identifier is a decoded did:web identifier.
type Identifier struct {
	Host string
	Path []string
}

// New creates an identifier for host (which may carry a port) and optional path segments.
func New(host string, path ...string) *Identifier {
	return &Identifier{Host: host, Path: path}
}

// Parse decodes a did:web identifier. Segments are percent-decoded, so ports appear as %3A in the identifier.
func Parse(identifier string) (*Identifier, error) {
	if !strings.HasPrefix(identifier, models.DIDWebPrefix) {
		return nil, fmt.Errorf("%w: %q is not a did:web identifier", chainerrors.ErrMalformed, identifier)
	}

	segments := strings.Split(strings.TrimPrefix(identifier, models.DIDWebPrefix), ":")
	decoded := make([]string, len(segments))

	for i, segment := range segments {
		s, err := url.PathUnescape(segment)
		if err != nil || s == "" || strings.Contains(s, "/") {
			return nil, fmt.Errorf("%w: identifier %q has an invalid segment %q", chainerrors.ErrMalformed,
				identifier, segment)
		}

		decoded[i] = s
	}

	if _, err := url.Parse("https://" + decoded[0]); err != nil {
		return nil, fmt.Errorf("%w: identifier %q has an invalid host: %s", chainerrors.ErrMalformed, identifier, err)
	}

	return &Identifier{Host: decoded[0], Path: decoded[1:]}, nil
}

// FromResourcePath maps the escaped path part of a served URL ("<path>/did.json" without the file) back to an
// identifier.
func FromResourcePath(host, resourcePath string) (*Identifier, error) {
	resourcePath = strings.Trim(resourcePath, "/")

	if resourcePath == WellKnownPath {
		return New(host), nil
	}

	if resourcePath == "" {
		return nil, fmt.Errorf("%w: empty resource path", chainerrors.ErrMalformed)
	}

	segments := strings.Split(resourcePath, "/")

	for i, segment := range segments {
		s, err := url.PathUnescape(segment)
		if err != nil || s == "" || s == WellKnownPath || strings.Contains(s, "/") {
			return nil, fmt.Errorf("%w: invalid resource path %q", chainerrors.ErrMalformed, resourcePath)
		}

		segments[i] = s
	}

	return New(host, segments...), nil
}

// String encodes the identifier as did:web:<host>[:<segment>...].
func (id *Identifier) String() string {
	encoded := make([]string, 0, len(id.Path)+1)
	encoded = append(encoded, encodeSegment(id.Host))

	for _, segment := range id.Path {
		encoded = append(encoded, encodeSegment(segment))
	}

	return models.DIDWebPrefix + strings.Join(encoded, ":")
}

// ResourcePath returns the URL path under which the identifier's files are published, without a trailing slash.
func (id *Identifier) ResourcePath() string {
	if len(id.Path) == 0 {
		return "/" + WellKnownPath
	}

	escaped := make([]string, len(id.Path))
	for i, segment := range id.Path {
		escaped[i] = url.PathEscape(segment)
	}

	return "/" + strings.Join(escaped, "/")
}

// DocumentURL returns the location of a document version.
func (id *Identifier) DocumentURL(version int) string {
	return id.fileURL(DocumentFile, version)
}

// MetadataURL returns the location of a metadata record.
func (id *Identifier) MetadataURL(version int) string {
	return id.fileURL(MetadataFile, version)
}

// ProofsURL returns the location of the proof collection.
func (id *Identifier) ProofsURL() string {
	return id.fileURL(ProofsFile, 0)
}

func (id *Identifier) fileURL(file string, version int) string {
	u := "https://" + id.Host + id.ResourcePath() + "/" + file

	if version > 0 {
		u += "?" + VersionSelector + "=" + strconv.Itoa(version)
	}

	return u
}

func encodeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}
