/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didweb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustbloc/didchain/pkg/chainerrors"
)

func TestParse(t *testing.T) {
	t.Run("root identifier", func(t *testing.T) {
		id, err := Parse("did:web:example.com")
		require.NoError(t, err)
		require.Equal(t, "example.com", id.Host)
		require.Empty(t, id.Path)
		require.Equal(t, "https://example.com/.well-known/did.json?versionId=3", id.DocumentURL(3))
		require.Equal(t, "https://example.com/.well-known/metadata.json?versionId=3", id.MetadataURL(3))
		require.Equal(t, "https://example.com/.well-known/proofs.json", id.ProofsURL())
	})
	t.Run("port and path", func(t *testing.T) {
		id, err := Parse("did:web:localhost%3A8443:users:alice")
		require.NoError(t, err)
		require.Equal(t, "localhost:8443", id.Host)
		require.Equal(t, []string{"users", "alice"}, id.Path)
		require.Equal(t, "https://localhost:8443/users/alice/did.json?versionId=1", id.DocumentURL(1))
		require.Equal(t, "https://localhost:8443/users/alice/did.json", id.DocumentURL(0))
		require.Equal(t, "did:web:localhost%3A8443:users:alice", id.String())
	})
	t.Run("invalid", func(t *testing.T) {
		for _, invalid := range []string{
			"",
			"did:key:z6Mk",
			"did:web:",
			"did:web:example.com::alice",
			"did:web:example.com:a%2Fb",
			"did:web:example.com:%zz",
		} {
			_, err := Parse(invalid)
			require.True(t, errors.Is(err, chainerrors.ErrMalformed), invalid)
		}
	})
}

func TestFromResourcePath(t *testing.T) {
	id, err := FromResourcePath("localhost:8443", ".well-known")
	require.NoError(t, err)
	require.Equal(t, "did:web:localhost%3A8443", id.String())

	id, err = FromResourcePath("example.com", "/users/alice/")
	require.NoError(t, err)
	require.Equal(t, "did:web:example.com:users:alice", id.String())
	require.Equal(t, "/users/alice", id.ResourcePath())

	id, err = FromResourcePath("example.com", "users/al%20ice")
	require.NoError(t, err)
	require.Equal(t, []string{"users", "al ice"}, id.Path)
	require.Equal(t, "/users/al%20ice", id.ResourcePath())

	for _, invalid := range []string{"", "/", "users//alice", "users/.well-known", "users/a%2Fb", "users/%zz"} {
		_, err = FromResourcePath("example.com", invalid)
		require.True(t, errors.Is(err, chainerrors.ErrMalformed), invalid)
	}
}
