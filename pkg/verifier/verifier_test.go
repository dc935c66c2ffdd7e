/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/didweb"
	"github.com/trustbloc/didchain/pkg/issuer"
	"github.com/trustbloc/didchain/pkg/proof"
	"github.com/trustbloc/didchain/pkg/resolver"
	"github.com/trustbloc/didchain/pkg/restapi"
	"github.com/trustbloc/didchain/pkg/restapi/models"
	"github.com/trustbloc/didchain/pkg/restapi/operation"
	"github.com/trustbloc/didchain/pkg/storage/ariesstore"
)

// rule rewrites a served response.
type rule func(status int, body []byte) (int, []byte)

// tamperer sits in front of the REST API and rewrites responses for selected request URIs.
type tamperer struct {
	mutex sync.Mutex
	next  http.Handler
	rules map[string]rule
}

func (tp *tamperer) set(requestURI string, r rule) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	tp.rules[requestURI] = r
}

func (tp *tamperer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	tp.mutex.Lock()
	r := tp.rules[req.URL.RequestURI()]
	tp.mutex.Unlock()

	if r == nil {
		tp.next.ServeHTTP(w, req)

		return
	}

	rec := httptest.NewRecorder()
	tp.next.ServeHTTP(rec, req)

	status, body := r(rec.Code, rec.Body.Bytes())

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func alterDocument(alter func(doc *models.DocumentVersion)) rule {
	return func(status int, body []byte) (int, []byte) {
		doc := &models.DocumentVersion{}

		if err := json.Unmarshal(body, doc); err != nil {
			return status, body
		}

		alter(doc)

		altered, err := models.CanonicalBytes(doc)
		if err != nil {
			return status, body
		}

		return status, altered
	}
}

func rewriteBytes(old, replacement string) rule {
	return func(status int, body []byte) (int, []byte) {
		return status, bytes.Replace(body, []byte(old), []byte(replacement), 1)
	}
}

func replaceProof(version int, token string) rule {
	return func(status int, body []byte) (int, []byte) {
		proofs := models.ProofCollection{}

		if err := json.Unmarshal(body, &proofs); err != nil {
			return status, body
		}

		if token == "" {
			delete(proofs, version)
		} else {
			proofs[version] = token
		}

		replaced, err := json.Marshal(proofs)
		if err != nil {
			return status, body
		}

		return status, replaced
	}
}

func respond(status int, body string) rule {
	return func(int, []byte) (int, []byte) {
		return status, []byte(body)
	}
}

type fixture struct {
	t          *testing.T
	srv        *httptest.Server
	issuer     *issuer.Issuer
	tamper     *tamperer
	identifier string

	mutex sync.Mutex
	keys  []*proof.KeyPair
}

// newFixture publishes a chain of the given length over HTTPS.
func newFixture(t *testing.T, versions int) *fixture {
	t.Helper()

	f := &fixture{t: t}

	f.srv = httptest.NewUnstartedServer(nil)
	host := f.srv.Listener.Addr().String()

	store, err := ariesstore.New(mem.NewProvider())
	require.NoError(t, err)

	f.issuer = issuer.New(host, store, issuer.WithKeyGenerator(f.generateKey))
	f.identifier = didweb.New(host).String()

	controller, err := restapi.New(&operation.Config{Issuer: f.issuer})
	require.NoError(t, err)

	router := mux.NewRouter()
	router.UseEncodedPath()

	for _, handler := range controller.GetOperations() {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	f.tamper = &tamperer{next: router, rules: map[string]rule{}}
	f.srv.Config.Handler = f.tamper
	f.srv.StartTLS()

	t.Cleanup(f.srv.Close)

	for i := 0; i < versions; i++ {
		_, err = f.issuer.AppendVersion(context.Background(), f.identifier)
		require.NoError(t, err)
	}

	return f
}

func (f *fixture) generateKey() (*proof.KeyPair, error) {
	keyPair, err := proof.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	f.mutex.Lock()
	f.keys = append(f.keys, keyPair)
	f.mutex.Unlock()

	return keyPair, nil
}

// key returns the key pair minted for version.
func (f *fixture) key(version int) *proof.KeyPair {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.keys[version-1]
}

func (f *fixture) resolver(opts ...resolver.Option) *resolver.Resolver {
	return resolver.New(append([]resolver.Option{
		resolver.WithHTTPClient(f.srv.Client()),
		resolver.WithRetry(1, time.Millisecond),
	}, opts...)...)
}

func (f *fixture) verifier(opts ...Option) *ChainVerifier {
	return New(f.resolver(), opts...)
}

func (f *fixture) documentURI(version int) string {
	return fmt.Sprintf("/.well-known/did.json?versionId=%d", version)
}

func (f *fixture) metadataURI(version int) string {
	return fmt.Sprintf("/.well-known/metadata.json?versionId=%d", version)
}

const proofsURI = "/.well-known/proofs.json"

func (f *fixture) hash(version int) string {
	f.t.Helper()

	b, err := f.issuer.Document(context.Background(), f.identifier, version)
	require.NoError(f.t, err)

	return models.HashBytes(b)
}

func (f *fixture) forge(signer *proof.KeyPair, claim proof.IssuerClaim, subject string) string {
	f.t.Helper()

	token, err := proof.Sign(signer, claim, subject)
	require.NoError(f.t, err)

	return token
}

func requireFailure(t *testing.T, result *Result, err error, version int, kind error) {
	t.Helper()

	require.Nil(t, result)

	var verificationErr *chainerrors.VerificationError

	require.True(t, errors.As(err, &verificationErr), "%v", err)
	require.Equal(t, version, verificationErr.Version, verificationErr.Error())
	require.Equal(t, kind, verificationErr.Kind, verificationErr.Error())
	require.True(t, errors.Is(err, kind))
}

func TestVerify_IssuedChainsComplete(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("chain of %d", n), func(t *testing.T) {
			f := newFixture(t, n)

			result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
			require.NoError(t, err)
			require.Equal(t, StateComplete, result.State)
			require.Equal(t, f.identifier, result.Identifier)
			require.Equal(t, 1, result.Anchor)
			require.Equal(t, n, result.Head)
			require.NotEmpty(t, result.RunID)
		})
	}

	t.Run("anchor in the middle of the chain", func(t *testing.T) {
		f := newFixture(t, 5)

		result, err := f.verifier().Verify(context.Background(), f.identifier, 3)
		require.NoError(t, err)
		require.Equal(t, 3, result.Anchor)
		require.Equal(t, 5, result.Head)
	})
}

func TestVerify_GenesisToSecondVersion(t *testing.T) {
	f := newFixture(t, 2)

	var transitions []Transition

	result, err := f.verifier(WithTransitionHook(func(tr Transition) {
		transitions = append(transitions, tr)
	})).Verify(context.Background(), f.identifier, 1)
	require.NoError(t, err)
	require.Equal(t, 2, result.Head)

	require.Equal(t, []Transition{
		{RunID: result.RunID, Identifier: f.identifier, Version: 2, From: StateInit, To: StateVerifying},
		{RunID: result.RunID, Identifier: f.identifier, Version: 2, From: StateVerifying, To: StateAdvancing},
		{RunID: result.RunID, Identifier: f.identifier, Version: 2, From: StateAdvancing, To: StateComplete},
	}, transitions)
}

func TestVerify_AlteredDocument(t *testing.T) {
	const n = 4

	for v := 2; v <= n; v++ {
		t.Run(fmt.Sprintf("version %d", v), func(t *testing.T) {
			f := newFixture(t, n)

			f.tamper.set(f.documentURI(v), alterDocument(func(doc *models.DocumentVersion) {
				doc.VerificationMethod[0].Controller = "did:web:attacker.example"
			}))

			var reached []int

			result, err := f.verifier(WithTransitionHook(func(tr Transition) {
				reached = append(reached, tr.Version)
			})).Verify(context.Background(), f.identifier, 1)
			requireFailure(t, result, err, v, chainerrors.ErrIntegrityMismatch)
			require.Equal(t, v, reached[len(reached)-1])
		})
	}

	t.Run("extra service", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(2), alterDocument(func(doc *models.DocumentVersion) {
			doc.Service = append(doc.Service, models.Service{
				ID: doc.ID + "#mirror", Type: "LinkedDomains", ServiceEndpoint: "https://attacker.example",
			})
		}))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrIntegrityMismatch)
	})
}

func TestVerify_RewrittenDocumentBytes(t *testing.T) {
	tests := []struct {
		name        string
		old         string
		replacement string
		kind        error
	}{
		{
			name: "member name in another case", old: `"assertionMethod"`, replacement: `"ASSERTIONMETHOD"`,
			kind: chainerrors.ErrMalformed,
		},
		{
			name: "duplicate id", old: `{"id":`, replacement: `{"id":"did:web:attacker.example","id":`,
			kind: chainerrors.ErrMalformed,
		},
		{
			name: "extra key member", old: `"kty":"EC"`, replacement: `"kty":"EC","evil":"x"`,
			kind: chainerrors.ErrMalformed,
		},
		{
			name: "inserted whitespace", old: `{"id":`, replacement: `{ "id":`,
			kind: chainerrors.ErrIntegrityMismatch,
		},
		{
			name: "trailing newline", old: `]}`, replacement: "]}\n",
			kind: chainerrors.ErrIntegrityMismatch,
		},
		{
			name: "escaped member name", old: `"controller"`, replacement: `"\u0063ontroller"`,
			kind: chainerrors.ErrIntegrityMismatch,
		},
	}

	for _, tc := range tests {
		tc := tc

		for v := 2; v <= 3; v++ {
			t.Run(fmt.Sprintf("%s at version %d", tc.name, v), func(t *testing.T) {
				f := newFixture(t, 3)

				f.tamper.set(f.documentURI(v), rewriteBytes(tc.old, tc.replacement))

				result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
				requireFailure(t, result, err, v, tc.kind)
			})
		}
	}
}

func TestVerify_ProofSignedByUnrelatedKey(t *testing.T) {
	f := newFixture(t, 3)

	unrelated, err := proof.GenerateKeyPair()
	require.NoError(t, err)

	f.tamper.set(proofsURI, replaceProof(3, f.forge(unrelated, proof.IssuerClaim{
		Identifier: f.identifier, Version: 2, Fragment: f.key(2).Fragment,
	}, f.hash(3))))

	result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
	requireFailure(t, result, err, 3, chainerrors.ErrInvalidSignature)
}

func TestVerify_MissingUpdateService(t *testing.T) {
	for _, anchor := range []int{1, 2} {
		t.Run(fmt.Sprintf("anchor %d", anchor), func(t *testing.T) {
			f := newFixture(t, 3)

			f.tamper.set(f.documentURI(anchor), alterDocument(func(doc *models.DocumentVersion) {
				doc.Service = nil
			}))

			result, err := f.verifier().Verify(context.Background(), f.identifier, anchor)
			requireFailure(t, result, err, anchor+1, chainerrors.ErrMissingServiceEndpoint)
		})
	}

	t.Run("service of another type", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(1), alterDocument(func(doc *models.DocumentVersion) {
			doc.Service[0].Type = "LinkedDomains"
		}))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrMissingServiceEndpoint)
	})
	t.Run("altered successor is reported before the missing service", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(1), alterDocument(func(doc *models.DocumentVersion) {
			doc.Service = nil
		}))
		f.tamper.set(f.documentURI(2), respond(http.StatusNotFound, "Not found"))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrNotFound)
	})
}

func TestVerify_Termination(t *testing.T) {
	t.Run("anchor without successor", func(t *testing.T) {
		f := newFixture(t, 1)

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		require.NoError(t, err)
		require.Equal(t, StateComplete, result.State)
		require.Equal(t, 1, result.Head)
	})
	t.Run("announced successor that cannot be fetched", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.metadataURI(2), respond(http.StatusOK, `{"versionId":2,"nextVersionId":true}`))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 3, chainerrors.ErrNotFound)
	})
	t.Run("metadata of another version", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.metadataURI(2), respond(http.StatusOK, `{"versionId":3,"nextVersionId":false}`))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrNonContiguousVersion)
	})
	t.Run("malformed metadata", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.metadataURI(1), respond(http.StatusOK, `{"versionId":1}`))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 1, chainerrors.ErrMalformed)
	})
}

func TestVerify_ProofFailures(t *testing.T) {
	t.Run("no proof for the version", func(t *testing.T) {
		f := newFixture(t, 3)

		f.tamper.set(proofsURI, replaceProof(3, ""))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 3, chainerrors.ErrNotFound)
	})
	t.Run("proof collection unreachable", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(proofsURI, respond(http.StatusServiceUnavailable, "unavailable"))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrEndpointUnreachable)
	})
	t.Run("proof collection not found", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(proofsURI, respond(http.StatusNotFound, "Not found"))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrEndpointUnreachable)
	})
	t.Run("proof collection is not an object", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(proofsURI, respond(http.StatusOK, `["token"]`))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrMalformed)
	})
	t.Run("proof is not a token", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(proofsURI, replaceProof(2, "not-a-token"))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrMalformed)
	})
	t.Run("signer fragment not declared by the previous version", func(t *testing.T) {
		f := newFixture(t, 3)

		// Key of version 3 signing its own document: the fragment is unknown to version 2.
		f.tamper.set(proofsURI, replaceProof(3, f.forge(f.key(3), proof.IssuerClaim{
			Identifier: f.identifier, Version: 2, Fragment: f.key(3).Fragment,
		}, f.hash(3))))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 3, chainerrors.ErrUnknownSigner)
	})
	t.Run("proof issued for another identifier", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(proofsURI, replaceProof(2, f.forge(f.key(1), proof.IssuerClaim{
			Identifier: f.identifier + ":users:mallory", Version: 1, Fragment: f.key(1).Fragment,
		}, f.hash(2))))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrUnknownSigner)
	})
	t.Run("proof claims a key of a skipped version", func(t *testing.T) {
		f := newFixture(t, 3)

		f.tamper.set(proofsURI, replaceProof(3, f.forge(f.key(1), proof.IssuerClaim{
			Identifier: f.identifier, Version: 1, Fragment: f.key(1).Fragment,
		}, f.hash(3))))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 3, chainerrors.ErrNonContiguousVersion)
	})
	t.Run("genuine proof of a different version", func(t *testing.T) {
		f := newFixture(t, 3)

		f.tamper.set(proofsURI, replaceProof(3, f.forge(f.key(2), proof.IssuerClaim{
			Identifier: f.identifier, Version: 2, Fragment: f.key(2).Fragment,
		}, f.hash(2))))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 3, chainerrors.ErrIntegrityMismatch)
	})
}

func TestVerify_ResolutionFailures(t *testing.T) {
	t.Run("malformed document", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(2), respond(http.StatusOK, `{"id":"`+f.identifier+`","extra":true}`))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrMalformed)
	})
	t.Run("anchor not published", func(t *testing.T) {
		f := newFixture(t, 1)

		result, err := f.verifier().Verify(context.Background(), f.identifier, 4)
		requireFailure(t, result, err, 4, chainerrors.ErrNotFound)
	})
	t.Run("invalid anchor", func(t *testing.T) {
		f := newFixture(t, 1)

		result, err := f.verifier().Verify(context.Background(), f.identifier, 0)
		requireFailure(t, result, err, 0, chainerrors.ErrMalformed)
	})
	t.Run("server error on the successor", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(2), respond(http.StatusBadGateway, "bad gateway"))

		result, err := f.verifier().Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrTransport)
	})
	t.Run("slow successor", func(t *testing.T) {
		f := newFixture(t, 2)

		f.tamper.set(f.documentURI(2), func(status int, body []byte) (int, []byte) {
			time.Sleep(200 * time.Millisecond)

			return status, body
		})

		v := New(f.resolver(resolver.WithTimeout(50*time.Millisecond), resolver.WithRetry(0, time.Millisecond)))

		result, err := v.Verify(context.Background(), f.identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrTimeout)
	})
}

func TestVerify_Cancellation(t *testing.T) {
	t.Run("canceled before start", func(t *testing.T) {
		f := newFixture(t, 2)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := f.verifier().Verify(ctx, f.identifier, 1)
		requireFailure(t, result, err, 1, chainerrors.ErrCanceled)
	})
	t.Run("canceled between iterations", func(t *testing.T) {
		f := newFixture(t, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		result, err := f.verifier(WithTransitionHook(func(tr Transition) {
			if tr.To == StateAdvancing && tr.Version == 2 {
				cancel()
			}
		})).Verify(ctx, f.identifier, 1)
		require.Nil(t, result)
		require.True(t, errors.Is(err, chainerrors.ErrCanceled), err)
	})
}

type mockResolver struct {
	docs      map[int]*models.DocumentVersion
	errDoc    error
	errProofs error
	proofs    models.ProofCollection
}

func (m *mockResolver) Resolve(_ context.Context, _ string, version int) (*models.DocumentVersion, error) {
	if version > 1 && m.errDoc != nil {
		return nil, m.errDoc
	}

	return m.docs[version], nil
}

func (m *mockResolver) ResolveMetadata(_ context.Context, _ string, version int) (*models.MetadataRecord,
	error) {
	return &models.MetadataRecord{VersionID: version, NextVersionID: true}, nil
}

func (m *mockResolver) FetchProofs(context.Context, string) (models.ProofCollection, error) {
	return m.proofs, m.errProofs
}

func TestVerify_StepOrder(t *testing.T) {
	const identifier = "did:web:example.com"

	anchor := &models.DocumentVersion{
		Version: 1,
		ID:      identifier,
		Service: []models.Service{{
			ID: identifier + "#update", Type: models.UpdateServiceType,
			ServiceEndpoint: "https://example.com/.well-known/proofs.json",
		}},
	}

	t.Run("document failure wins over proof failure", func(t *testing.T) {
		r := &mockResolver{
			docs:      map[int]*models.DocumentVersion{1: anchor},
			errDoc:    fmt.Errorf("%w: gone", chainerrors.ErrNotFound),
			errProofs: fmt.Errorf("%w: refused", chainerrors.ErrTransport),
		}

		result, err := New(r).Verify(context.Background(), identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrNotFound)
	})
	t.Run("unclassified proof failure", func(t *testing.T) {
		r := &mockResolver{
			docs:      map[int]*models.DocumentVersion{1: anchor, 2: {Version: 2, ID: identifier}},
			errProofs: errors.New("connection reset"),
		}

		result, err := New(r).Verify(context.Background(), identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrEndpointUnreachable)
	})
	t.Run("proof timeout keeps its kind", func(t *testing.T) {
		r := &mockResolver{
			docs:      map[int]*models.DocumentVersion{1: anchor, 2: {Version: 2, ID: identifier}},
			errProofs: fmt.Errorf("%w: slow", chainerrors.ErrTimeout),
		}

		result, err := New(r).Verify(context.Background(), identifier, 1)
		requireFailure(t, result, err, 2, chainerrors.ErrTimeout)
	})
}
