/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/didweb"
	"github.com/trustbloc/didchain/pkg/internal/common/support"
	"github.com/trustbloc/didchain/pkg/restapi/messages"
	"github.com/trustbloc/didchain/pkg/restapi/models"
)

const (
	logModuleName = "restapi"

	pathVariable = "path"
	resourceRoot = "/{" + pathVariable + ":.+}"

	readDocumentEndpoint = resourceRoot + "/" + didweb.DocumentFile
	readMetadataEndpoint = resourceRoot + "/" + didweb.MetadataFile
	readProofsEndpoint   = resourceRoot + "/" + didweb.ProofsFile
	updateEndpoint       = resourceRoot + "/update"
	logSpecEndpoint      = "/logspec"

	latestVersion = "latest"
)

var logger = log.New(logModuleName)

// Handler represents an HTTP handler for each controller API endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

type chainIssuer interface {
	Host() string
	AppendVersion(ctx context.Context, identifier string) (*models.DocumentVersion, error)
	Document(ctx context.Context, identifier string, version int) ([]byte, error)
	Latest(ctx context.Context, identifier string) (int, []byte, error)
	Metadata(ctx context.Context, identifier string, version int) (*models.MetadataRecord, error)
	Proofs(ctx context.Context, identifier string) (models.ProofCollection, error)
}

// Config defines configuration for the chain operations.
type Config struct {
	Issuer chainIssuer
	// AdminToken, when set, must be presented as a bearer token to trigger updates.
	AdminToken string
}

// Operation defines handler logic for publishing document chains.
type Operation struct {
	handlers   []Handler
	issuer     chainIssuer
	adminToken string
}

// New returns a new chain operations instance.
func New(config *Config) *Operation {
	svc := &Operation{issuer: config.Issuer, adminToken: config.AdminToken}

	svc.registerHandler()

	return svc
}

// registerHandler register handlers to be exposed from this service as REST API endpoints.
func (c *Operation) registerHandler() {
	c.handlers = []Handler{
		support.NewHTTPHandler(logSpecEndpoint, http.MethodPut, c.changeLogSpecHandler),
		support.NewHTTPHandler(readDocumentEndpoint, http.MethodGet, c.readDocumentHandler),
		support.NewHTTPHandler(readMetadataEndpoint, http.MethodGet, c.readMetadataHandler),
		support.NewHTTPHandler(readProofsEndpoint, http.MethodGet, c.readProofsHandler),
		support.NewHTTPHandler(updateEndpoint, http.MethodPost, c.updateHandler),
	}
}

// GetRESTHandlers gets all controller API handler available for this service.
func (c *Operation) GetRESTHandlers() []Handler {
	return c.handlers
}

// Read Document swagger:route GET /{path}/did.json readDocumentReq
//
// Retrieves a document version. Without a versionId the latest version is returned.
//
// Responses:
//    default: genericError
//        200: readDocumentRes
func (c *Operation) readDocumentHandler(rw http.ResponseWriter, req *http.Request) {
	id, ok := c.identifierFromRequest(rw, req)
	if !ok {
		return
	}

	identifier := id.String()

	selector := req.URL.Query().Get(didweb.VersionSelector)

	logger.Debugf(messages.DebugLogEvent,
		fmt.Sprintf(messages.ReadDocumentReceiveRequest, selectorForLog(selector), identifier))

	var (
		version       int
		documentBytes []byte
		err           error
	)

	if selector == "" {
		version, documentBytes, err = c.issuer.Latest(req.Context(), identifier)
	} else {
		version, err = parseVersionSelector(selector)
		if err == nil {
			documentBytes, err = c.issuer.Document(req.Context(), identifier, version)
		}
	}

	if err != nil {
		writeReadFailure(rw, messages.ReadDocumentFailure, err, selectorForLog(selector), identifier)
		return
	}

	writeReadSuccess(rw, documentBytes,
		fmt.Sprintf(messages.ReadDocumentSuccess, version, identifier))
}

// Read Metadata swagger:route GET /{path}/metadata.json readMetadataReq
//
// Tells whether a document version has a successor.
//
// Responses:
//    default: genericError
//        200: readMetadataRes
func (c *Operation) readMetadataHandler(rw http.ResponseWriter, req *http.Request) {
	id, ok := c.identifierFromRequest(rw, req)
	if !ok {
		return
	}

	identifier := id.String()

	selector := req.URL.Query().Get(didweb.VersionSelector)

	version, err := parseVersionSelector(selector)
	if err != nil {
		writeReadFailure(rw, messages.ReadMetadataFailure, err, selector, identifier)
		return
	}

	record, err := c.issuer.Metadata(req.Context(), identifier, version)
	if err != nil {
		writeReadFailure(rw, messages.ReadMetadataFailure, err, selector, identifier)
		return
	}

	writeJSON(rw, http.StatusOK, record, identifier)
}

// Read Proofs swagger:route GET /{path}/proofs.json readProofsReq
//
// Retrieves the proof collection, keyed by the version each proof attests.
//
// Responses:
//    default: genericError
//        200: readProofsRes
func (c *Operation) readProofsHandler(rw http.ResponseWriter, req *http.Request) {
	id, ok := c.identifierFromRequest(rw, req)
	if !ok {
		return
	}

	identifier := id.String()

	proofs, err := c.issuer.Proofs(req.Context(), identifier)
	if err != nil {
		writeReadFailure(rw, messages.ReadProofsFailure, err, identifier)
		return
	}

	writeJSON(rw, http.StatusOK, proofs, identifier)
}

// Update swagger:route POST /{path}/update updateReq
//
// Appends exactly one version. Not idempotent.
//
// Responses:
//    default: genericError
//        201: updateRes
func (c *Operation) updateHandler(rw http.ResponseWriter, req *http.Request) {
	id, ok := c.identifierFromRequest(rw, req)
	if !ok {
		return
	}

	identifier := id.String()

	logger.Debugf(messages.DebugLogEvent, fmt.Sprintf(messages.UpdateReceiveRequest, identifier))

	if !c.authorized(req) {
		writeErrorWithIdentifier(rw, http.StatusUnauthorized, messages.UpdateFailure, messages.ErrUnauthorized,
			identifier)

		return
	}

	doc, err := c.issuer.AppendVersion(req.Context(), identifier)
	if err != nil {
		writeErrorWithIdentifier(rw, statusFor(err), messages.UpdateFailure, err, identifier)
		return
	}

	logger.Infof(messages.UpdateSuccess, doc.Version, identifier)

	rw.Header().Set("Location", id.DocumentURL(doc.Version))

	writeJSON(rw, http.StatusCreated, &models.MetadataRecord{VersionID: doc.Version, NextVersionID: false},
		identifier)
}

// Change Log Level swagger:route PUT /logspec changeLogSpecReq
//
// Changes the current log specification.
// Format: ModuleName1=Level1:ModuleName2=Level2:ModuleNameN=LevelN:AllOtherModuleDefaultLevel
// Valid log levels: critical,error,warn,info,debug
//
// Responses:
//    default: genericError
//        200: emptyRes
func (c *Operation) changeLogSpecHandler(rw http.ResponseWriter, req *http.Request) {
	requestBody, err := ioutil.ReadAll(req.Body)
	if err != nil {
		writePutLogSpecRequestReadFailure(rw, err)
		return
	}

	var incoming struct {
		Spec string `json:"spec"`
	}

	if err = json.Unmarshal(requestBody, &incoming); err != nil {
		writeInvalidLogSpec(rw, err, requestBody)
		return
	}

	if err = applyLogSpec(incoming.Spec); err != nil {
		writeInvalidLogSpec(rw, err, requestBody)
		return
	}

	writePutLogSpecSuccess(rw, requestBody)
}

func selectorForLog(selector string) string {
	if selector == "" {
		return latestVersion
	}

	return selector
}

func parseVersionSelector(selector string) (int, error) {
	version, err := strconv.Atoi(selector)
	if err != nil || version < 1 {
		return 0, messages.ErrInvalidVersionSelector
	}

	return version, nil
}
