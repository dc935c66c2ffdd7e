/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resolver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/didweb"
	"github.com/trustbloc/didchain/pkg/restapi/models"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxBodySize     = 1 << 20
)

var logger = log.New("didchain-resolver")

// Resolver fetches document versions, metadata records and proof collections of did:web identifiers over HTTPS.
type Resolver struct {
	httpClient      *http.Client
	timeout         time.Duration
	maxRetries      uint64
	initialInterval time.Duration
	maxBodySize     int64
}

// Option configures the resolver.
type Option func(opts *Resolver)

// WithTLSConfig option is for definition of secured HTTP transport using a tls.Config instance.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(opts *Resolver) {
		opts.httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Resolver) {
		opts.httpClient = client
	}
}

// WithTimeout bounds every single request.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Resolver) {
		opts.timeout = timeout
	}
}

// WithRetry sets how many times a transient failure is retried and the first backoff interval.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Option {
	return func(opts *Resolver) {
		opts.maxRetries = maxRetries
		opts.initialInterval = initialInterval
	}
}

// WithMaxBodySize limits the size of accepted response bodies.
func WithMaxBodySize(size int64) Option {
	return func(opts *Resolver) {
		opts.maxBodySize = size
	}
}

// New returns a new resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient:      &http.Client{},
		timeout:         defaultTimeout,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		maxBodySize:     defaultMaxBodySize,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve fetches and strictly decodes a document version.
func (r *Resolver) Resolve(ctx context.Context, identifier string, version int) (*models.DocumentVersion, error) {
	id, err := didweb.Parse(identifier)
	if err != nil {
		return nil, err
	}

	body, err := r.get(ctx, id.DocumentURL(version))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version %d of %s: %w", version, identifier, err)
	}

	doc, err := models.ParseDocumentVersion(body, version)
	if err != nil {
		return nil, err
	}

	if doc.ID != identifier {
		return nil, fmt.Errorf("%w: version %d of %s carries id %s", chainerrors.ErrMalformed, version,
			identifier, doc.ID)
	}

	return doc, nil
}

// ResolveMetadata fetches the metadata record of a version.
func (r *Resolver) ResolveMetadata(ctx context.Context, identifier string,
	version int) (*models.MetadataRecord, error) {
	id, err := didweb.Parse(identifier)
	if err != nil {
		return nil, err
	}

	body, err := r.get(ctx, id.MetadataURL(version))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata %d of %s: %w", version, identifier, err)
	}

	return models.ParseMetadataRecord(body)
}

// FetchProofs fetches the proof collection published at endpoint.
func (r *Resolver) FetchProofs(ctx context.Context, endpoint string) (models.ProofCollection, error) {
	body, err := r.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proofs from %s: %w", endpoint, err)
	}

	return models.ParseProofCollection(body)
}

// get performs a GET, retrying transient failures with exponential backoff.
func (r *Resolver) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte

	operation := func() error {
		b, err := r.sendHTTPRequest(ctx, endpoint)
		if err != nil {
			return err
		}

		body = b

		return nil
	}

	expBackOff := backoff.NewExponentialBackOff()
	expBackOff.InitialInterval = r.initialInterval
	expBackOff.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(expBackOff, r.maxRetries), ctx),
		func(err error, wait time.Duration) {
			logger.Debugf("Retrying GET %s in %s: %s", endpoint, wait, err)
		})
	if err != nil {
		return nil, contextError(err)
	}

	return body, nil
}

func (r *Resolver) sendHTTPRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(contextError(err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", chainerrors.ErrTransport, err))
	}

	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req) //nolint: bodyclose
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(contextError(ctx.Err()))
		}

		if isTimeout(err) {
			return nil, fmt.Errorf("%w: GET %s: %s", chainerrors.ErrTimeout, endpoint, err)
		}

		return nil, fmt.Errorf("%w: GET %s: %s", chainerrors.ErrTransport, endpoint, err)
	}

	defer closeReadCloser(resp.Body)

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodySize+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading %s: %s", chainerrors.ErrTimeout, endpoint, err)
		}

		return nil, fmt.Errorf("%w: reading %s: %s", chainerrors.ErrTransport, endpoint, err)
	}

	logger.Debugf("Sent GET request to %s, response status code: %d", endpoint, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusOK:
		if int64(len(respBytes)) > r.maxBodySize {
			return nil, backoff.Permanent(fmt.Errorf("%w: response from %s exceeds %d bytes",
				chainerrors.ErrMalformed, endpoint, r.maxBodySize))
		}

		return respBytes, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned status code %d", chainerrors.ErrNotFound,
			endpoint, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s returned status code %d", chainerrors.ErrTransport, endpoint,
			resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned status code %d", chainerrors.ErrTransport,
			endpoint, resp.StatusCode))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error

	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

// contextError classifies a bare context error; already classified errors pass through.
func contextError(err error) error {
	switch {
	case chainerrors.KindOf(err) != nil:
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", chainerrors.ErrCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", chainerrors.ErrTimeout, err)
	default:
		return err
	}
}

func closeReadCloser(respBody io.ReadCloser) {
	err := respBody.Close()
	if err != nil {
		logger.Errorf("Failed to close response body: %s", err)
	}
}
