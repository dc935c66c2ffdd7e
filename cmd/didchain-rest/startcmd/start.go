/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	ariesstorage "github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	edgelog "github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/issuer"
	"github.com/trustbloc/didchain/pkg/restapi"
	"github.com/trustbloc/didchain/pkg/restapi/operation"
	"github.com/trustbloc/didchain/pkg/storage"
	"github.com/trustbloc/didchain/pkg/storage/ariesstore"
	"github.com/trustbloc/didchain/pkg/storage/sqlitestore"
	cmdutils "github.com/trustbloc/didchain/pkg/utils/cmd"
)

const (
	hostURLFlagName      = "host-url"
	hostURLEnvKey        = "DIDCHAIN_HOST_URL"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the didchain instance on. Format: HostName:Port." +
		" Alternatively, this can be set with the following environment variable: " + hostURLEnvKey

	domainFlagName      = "domain"
	domainEnvKey        = "DIDCHAIN_DOMAIN"
	domainFlagShorthand = "d"
	domainFlagUsage     = "The domain published identifiers are rooted at, as it appears in did:web identifiers" +
		" (HostName or HostName:Port). Defaults to the host URL." +
		" Alternatively, this can be set with the following environment variable: " + domainEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "DIDCHAIN_DATABASE_TYPE"
	databaseTypeFlagShorthand = "t"
	databaseTypeFlagUsage     = "The type of database to keep issuer state in. Supported options: mem, mongodb, sqlite." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeMongoDBOption = "mongodb"
	databaseTypeSQLiteOption  = "sqlite"

	databaseURLFlagName      = "database-url"
	databaseURLEnvKey        = "DIDCHAIN_DATABASE_URL"
	databaseURLFlagShorthand = "l"
	databaseURLFlagUsage     = "The URL of the database. Not needed if using mem." +
		" For MongoDB, a connection string. For SQLite, a file path or DSN." +
		" Alternatively, this can be set with the following environment variable: " + databaseURLEnvKey

	databasePrefixFlagName      = "database-prefix"
	databasePrefixEnvKey        = "DIDCHAIN_DATABASE_PREFIX"
	databasePrefixFlagShorthand = "p"
	databasePrefixFlagUsage     = "An optional prefix to be used when creating and retrieving underlying MongoDB" +
		" databases. Alternatively, this can be set with the following environment variable: " + databasePrefixEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "DIDCHAIN_LOG_LEVEL"
	logLevelFlagUsage = "Logging level to set. Supported options: critical, error, warning, info, debug." +
		` Defaults to "info". Alternatively, this can be set with the following environment variable: ` +
		logLevelEnvKey

	logLevelCritical = "critical"
	logLevelError    = "error"
	logLevelWarn     = "warning"
	logLevelInfo     = "info"
	logLevelDebug    = "debug"

	adminTokenFlagName  = "admin-token"
	adminTokenEnvKey    = "DIDCHAIN_ADMIN_TOKEN" //nolint:gosec
	adminTokenFlagUsage = "Bearer token required to trigger updates. Updates are open when not set." +
		" Alternatively, this can be set with the following environment variable: " + adminTokenEnvKey

	tlsCertFileFlagName  = "tls-cert-file"
	tlsCertFileEnvKey    = "DIDCHAIN_TLS_CERT_FILE"
	tlsCertFileFlagUsage = "TLS certificate file." +
		" Alternatively, this can be set with the following environment variable: " + tlsCertFileEnvKey

	tlsKeyFileFlagName  = "tls-key-file"
	tlsKeyFileEnvKey    = "DIDCHAIN_TLS_KEY_FILE"
	tlsKeyFileFlagUsage = "TLS key file." +
		" Alternatively, this can be set with the following environment variable: " + tlsKeyFileEnvKey
)

var (
	errMissingHostURL      = errors.New("host URL not provided")
	errMissingDatabaseURL  = errors.New("database URL not provided")
	errInvalidDatabaseType = errors.New("database type not set to a valid type." +
		" run start --help to see the available options")
)

type didchainParameters struct {
	srv            server
	hostURL        string
	domain         string
	databaseType   string
	databaseURL    string
	databasePrefix string
	logLevel       string
	adminToken     string
	tlsCertFile    string
	tlsKeyFile     string
}

type server interface {
	ListenAndServe(host, certFile, keyFile string, handler http.Handler) error
}

// HTTPServer represents an actual HTTP server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
// TLS is used when both a certificate and a key file are given.
func (s *HTTPServer) ListenAndServe(host, certFile, keyFile string, handler http.Handler) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, handler)
	}

	return http.ListenAndServe(host, handler)
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(srv server) *cobra.Command {
	startCmd := createStartCmd(srv)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(srv server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start didchain",
		Long:  "Start didchain, an issuer publishing versioned did:web documents and their proofs",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getParameters(cmd)
			if err != nil {
				return err
			}

			parameters.srv = srv

			return startDIDChain(parameters)
		},
	}
}

func getParameters(cmd *cobra.Command) (*didchainParameters, error) {
	hostURL, err := cmdutils.GetUserSetVar(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	domain, err := cmdutils.GetUserSetVar(cmd, domainFlagName, domainEnvKey, true)
	if err != nil {
		return nil, err
	}

	databaseType, err := cmdutils.GetUserSetVar(cmd, databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	databaseURL, err := cmdutils.GetUserSetVar(cmd, databaseURLFlagName, databaseURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	databasePrefix, err := cmdutils.GetUserSetVar(cmd, databasePrefixFlagName, databasePrefixEnvKey, true)
	if err != nil {
		return nil, err
	}

	logLevel, err := cmdutils.GetUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	adminToken, err := cmdutils.GetUserSetVar(cmd, adminTokenFlagName, adminTokenEnvKey, true)
	if err != nil {
		return nil, err
	}

	tlsCertFile, err := getTLSFile(cmd, tlsCertFileFlagName, tlsCertFileEnvKey)
	if err != nil {
		return nil, err
	}

	tlsKeyFile, err := getTLSFile(cmd, tlsKeyFileFlagName, tlsKeyFileEnvKey)
	if err != nil {
		return nil, err
	}

	return &didchainParameters{
		hostURL:        hostURL,
		domain:         domain,
		databaseType:   databaseType,
		databaseURL:    databaseURL,
		databasePrefix: databasePrefix,
		logLevel:       logLevel,
		adminToken:     adminToken,
		tlsCertFile:    tlsCertFile,
		tlsKeyFile:     tlsKeyFile,
	}, nil
}

// getTLSFile rejects a flag that is explicitly set to an empty value.
func getTLSFile(cmd *cobra.Command, flagName, envKey string) (string, error) {
	value, err := cmdutils.GetUserSetVar(cmd, flagName, envKey, true)
	if err != nil {
		return "", err
	}

	if cmd.Flags().Changed(flagName) && value == "" {
		return "", fmt.Errorf("%s value is empty", flagName)
	}

	return value, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(domainFlagName, domainFlagShorthand, "", domainFlagUsage)
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)
	startCmd.Flags().StringP(databasePrefixFlagName, databasePrefixFlagShorthand, "", databasePrefixFlagUsage)
	startCmd.Flags().String(logLevelFlagName, "", logLevelFlagUsage)
	startCmd.Flags().String(adminTokenFlagName, "", adminTokenFlagUsage)
	startCmd.Flags().String(tlsCertFileFlagName, "", tlsCertFileFlagUsage)
	startCmd.Flags().String(tlsKeyFileFlagName, "", tlsKeyFileFlagUsage)
}

func startDIDChain(parameters *didchainParameters) error {
	if parameters.hostURL == "" {
		return errMissingHostURL
	}

	setLogLevel(parameters.logLevel)

	store, err := createChainStore(parameters)
	if err != nil {
		return err
	}

	return serve(parameters, store)
}

// serve runs the REST API over store. The store is closed if the server cannot be set up.
func serve(parameters *didchainParameters, store storage.ChainStore) error {
	domain := parameters.domain
	if domain == "" {
		domain = parameters.hostURL
	}

	handler, err := newHandler(domain, parameters.adminToken, store)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			log.Warnf("failed to close chain store: %s", closeErr)
		}

		return err
	}

	if parameters.tlsCertFile == "" || parameters.tlsKeyFile == "" {
		log.Warn("TLS is not configured: did:web resolvers require HTTPS to be terminated in front of this server")
	}

	log.Infof("Starting didchain rest server on host %s", parameters.hostURL)

	return parameters.srv.ListenAndServe(parameters.hostURL, parameters.tlsCertFile, parameters.tlsKeyFile, handler)
}

// newHandler publishes the root identifier on store and routes the REST API to an issuer over it.
func newHandler(domain, adminToken string, store storage.ChainStore) (http.Handler, error) {
	chainIssuer := issuer.New(domain, store)

	// The root identifier always has at least its genesis version published.
	version, err := chainIssuer.EnsureGenesis(context.Background(), chainIssuer.RootIdentifier())
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap %s: %w", chainIssuer.RootIdentifier(), err)
	}

	log.Infof("Serving %s at version %d", chainIssuer.RootIdentifier(), version)

	if adminToken == "" {
		log.Warn("no admin token configured, anyone can append versions")
	}

	controller, err := restapi.New(&operation.Config{Issuer: chainIssuer, AdminToken: adminToken})
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.UseEncodedPath()

	for _, handler := range controller.GetOperations() {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	return constructCORSHandler(router), nil
}

// constructCORSHandler lets browsers resolve documents, metadata and proofs cross-origin.
func constructCORSHandler(handler http.Handler) http.Handler {
	return cors.New(
		cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		},
	).Handler(handler)
}

func setLogLevel(logLevel string) {
	if logLevel == "" {
		logLevel = logLevelInfo
	}

	level, err := edgelog.ParseLevel(logLevel)
	if err != nil {
		log.Warnf(`%s is not a valid logging level. It must be one of the following: `+
			"%s, %s, %s, %s, %s. Defaulting to info.",
			logLevel, logLevelCritical, logLevelError, logLevelWarn, logLevelInfo, logLevelDebug)

		level = edgelog.INFO
	}

	edgelog.SetLevel("", level)
}

func createChainStore(parameters *didchainParameters) (storage.ChainStore, error) {
	switch {
	case strings.EqualFold(parameters.databaseType, databaseTypeMemOption):
		log.Warn("issuer state is kept in memory and will be lost on restart")

		return newAriesStore(mem.NewProvider())
	case strings.EqualFold(parameters.databaseType, databaseTypeMongoDBOption):
		if parameters.databaseURL == "" {
			return nil, errMissingDatabaseURL
		}

		provider, err := mongodb.NewProvider(parameters.databaseURL, mongodb.WithDBPrefix(parameters.databasePrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB provider: %w", err)
		}

		return newAriesStore(provider)
	case strings.EqualFold(parameters.databaseType, databaseTypeSQLiteOption):
		if parameters.databaseURL == "" {
			return nil, errMissingDatabaseURL
		}

		store, err := sqlitestore.Open(parameters.databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, errInvalidDatabaseType
	}
}

func newAriesStore(provider ariesstorage.Provider) (storage.ChainStore, error) {
	store, err := ariesstore.New(provider)
	if err != nil {
		return nil, err
	}

	return store, nil
}
