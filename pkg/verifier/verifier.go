/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/trustbloc/edge-core/pkg/log"
	"golang.org/x/sync/errgroup"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/proof"
	"github.com/trustbloc/didchain/pkg/restapi/models"
)

var logger = log.New("didchain-verifier")

// State is the state of a verification run.
type State string

// Verification run states.
const (
	StateInit      State = "Init"
	StateVerifying State = "Verifying"
	StateAdvancing State = "Advancing"
	StateComplete  State = "Complete"
	StateFailed    State = "Failed"
)

// Resolver fetches what a verification run needs from the network.
type Resolver interface {
	Resolve(ctx context.Context, identifier string, version int) (*models.DocumentVersion, error)
	ResolveMetadata(ctx context.Context, identifier string, version int) (*models.MetadataRecord, error)
	FetchProofs(ctx context.Context, endpoint string) (models.ProofCollection, error)
}

// Transition describes one state change of a run.
type Transition struct {
	RunID      string
	Identifier string
	Version    int
	From       State
	To         State
}

// Result certifies that versions Anchor..Head of Identifier form a valid chain.
type Result struct {
	RunID      string
	Identifier string
	Anchor     int
	Head       int
	State      State
}

// Option configures a ChainVerifier.
type Option func(opts *ChainVerifier)

// WithTransitionHook registers a function called on every state change.
func WithTransitionHook(hook func(Transition)) Option {
	return func(opts *ChainVerifier) {
		opts.onTransition = hook
	}
}

// ChainVerifier walks a chain forward from a trusted anchor version, validating every link.
type ChainVerifier struct {
	resolver     Resolver
	onTransition func(Transition)
}

// New returns a chain verifier using resolver for every fetch.
func New(resolver Resolver, opts ...Option) *ChainVerifier {
	v := &ChainVerifier{resolver: resolver}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

type run struct {
	*ChainVerifier
	id         string
	identifier string
	state      State
}

func (r *run) transition(version int, to State) {
	from := r.state
	r.state = to

	logger.Debugf("Run %s: %s -> %s at version %d", r.id, from, to, version)

	if r.onTransition != nil {
		r.onTransition(Transition{RunID: r.id, Identifier: r.identifier, Version: version, From: from, To: to})
	}
}

func (r *run) fail(version int, cause error) *chainerrors.VerificationError {
	r.transition(version, StateFailed)

	verificationErr := chainerrors.NewVerificationError(version, cause)

	logger.Warnf("Run %s of %s failed: %s", r.id, r.identifier, verificationErr)

	return verificationErr
}

// Verify validates every version of identifier after the trusted anchor version, up to the last published one.
// The anchor itself is trusted unconditionally. On failure the returned error is a *chainerrors.VerificationError
// and no result is reported.
func (v *ChainVerifier) Verify(ctx context.Context, identifier string, anchor int) (*Result, error) {
	r := &run{ChainVerifier: v, id: uuid.New().String(), identifier: identifier, state: StateInit}

	logger.Infof("Run %s: verifying %s from anchor version %d", r.id, identifier, anchor)

	if anchor < 1 {
		return nil, r.fail(anchor, fmt.Errorf("%w: anchor version must be at least 1", chainerrors.ErrMalformed))
	}

	currentDoc, err := v.resolver.Resolve(ctx, identifier, anchor)
	if err != nil {
		return nil, r.fail(anchor, err)
	}

	more, err := v.hasSuccessor(ctx, identifier, anchor)
	if err != nil {
		return nil, r.fail(anchor, err)
	}

	current := anchor

	for more {
		candidate := current + 1

		if err = ctx.Err(); err != nil {
			return nil, r.fail(candidate, contextError(err))
		}

		r.transition(candidate, StateVerifying)

		nextDoc, err := v.verifyLink(ctx, identifier, currentDoc, candidate)
		if err != nil {
			return nil, r.fail(candidate, err)
		}

		r.transition(candidate, StateAdvancing)

		currentDoc, current = nextDoc, candidate

		more, err = v.hasSuccessor(ctx, identifier, current)
		if err != nil {
			return nil, r.fail(current, err)
		}
	}

	r.transition(current, StateComplete)

	logger.Infof("Run %s: %s verified from version %d to %d", r.id, identifier, anchor, current)

	return &Result{RunID: r.id, Identifier: identifier, Anchor: anchor, Head: current, State: r.state}, nil
}

// verifyLink validates candidate against currentDoc, its already trusted predecessor.
func (v *ChainVerifier) verifyLink(ctx context.Context, identifier string, currentDoc *models.DocumentVersion,
	candidate int) (*models.DocumentVersion, error) {
	svc, hasService := currentDoc.UpdateService()

	var (
		nextDoc   *models.DocumentVersion
		proofs    models.ProofCollection
		proofsErr error
	)

	// The document and the proof collection are fetched together; errors are evaluated in step order.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error

		nextDoc, err = v.resolver.Resolve(gctx, identifier, candidate)

		return err
	})

	if hasService {
		g.Go(func() error {
			proofs, proofsErr = v.resolver.FetchProofs(gctx, svc.ServiceEndpoint)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !hasService {
		return nil, fmt.Errorf("%w: version %d declares no %s service", chainerrors.ErrMissingServiceEndpoint,
			currentDoc.Version, models.UpdateServiceType)
	}

	if proofsErr != nil {
		return nil, proofFetchError(ctx, proofsErr)
	}

	rawProof, ok := proofs[candidate]
	if !ok {
		return nil, fmt.Errorf("%w: %s publishes no proof for version %d", chainerrors.ErrNotFound,
			svc.ServiceEndpoint, candidate)
	}

	token, err := proof.Parse(rawProof)
	if err != nil {
		return nil, err
	}

	if token.Issuer.Identifier != identifier {
		return nil, fmt.Errorf("%w: proof is issued by %s", chainerrors.ErrUnknownSigner, token.Issuer.Identifier)
	}

	if token.Issuer.Version != candidate-1 {
		return nil, fmt.Errorf("%w: proof of version %d is signed by a key of version %d",
			chainerrors.ErrNonContiguousVersion, candidate, token.Issuer.Version)
	}

	method, ok := currentDoc.VerificationMethodByFragment(token.Issuer.Fragment)
	if !ok {
		return nil, fmt.Errorf("%w: version %d declares no key %s", chainerrors.ErrUnknownSigner,
			currentDoc.Version, token.Issuer.Fragment)
	}

	if err = token.Verify(method.PublicKeyJwk); err != nil {
		return nil, err
	}

	hash, err := models.ReceivedHash(nextDoc)
	if err != nil {
		return nil, err
	}

	if hash != token.Subject {
		return nil, fmt.Errorf("%w: version %d hashes to %s, proof attests %s", chainerrors.ErrIntegrityMismatch,
			candidate, hash, token.Subject)
	}

	return nextDoc, nil
}

// hasSuccessor reports whether a version after the given one is published.
func (v *ChainVerifier) hasSuccessor(ctx context.Context, identifier string, version int) (bool, error) {
	record, err := v.resolver.ResolveMetadata(ctx, identifier, version)
	if err != nil {
		return false, err
	}

	if record.VersionID != version {
		return false, fmt.Errorf("%w: metadata of version %d reports version %d",
			chainerrors.ErrNonContiguousVersion, version, record.VersionID)
	}

	return record.NextVersionID, nil
}

// proofFetchError reports why the proof collection could not be obtained. Timeouts, cancellation and
// undecodable payloads keep their own kind; everything else means the endpoint is unreachable.
func proofFetchError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return contextError(ctx.Err())
	}

	switch chainerrors.KindOf(err) {
	case chainerrors.ErrTimeout, chainerrors.ErrCanceled, chainerrors.ErrMalformed:
		return err
	default:
		return fmt.Errorf("%w: %s", chainerrors.ErrEndpointUnreachable, err)
	}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", chainerrors.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %s", chainerrors.ErrCanceled, err)
}
