/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifycmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/trustbloc/didchain/pkg/resolver"
	cmdutils "github.com/trustbloc/didchain/pkg/utils/cmd"
	"github.com/trustbloc/didchain/pkg/verifier"
)

const (
	didFlagName  = "did"
	didEnvKey    = "DIDCHAIN_VERIFY_DID"
	didFlagUsage = "The did:web identifier whose chain is verified." +
		" Alternatively, this can be set with the following environment variable: " + didEnvKey

	anchorVersionFlagName  = "anchor-version"
	anchorVersionEnvKey    = "DIDCHAIN_VERIFY_ANCHOR_VERSION"
	anchorVersionFlagUsage = "The version trusted out-of-band. Every later version is verified against it." +
		" Alternatively, this can be set with the following environment variable: " + anchorVersionEnvKey

	timeoutFlagName  = "timeout"
	timeoutEnvKey    = "DIDCHAIN_VERIFY_TIMEOUT"
	timeoutFlagUsage = "Timeout of each HTTP request, e.g. 5s. Defaults to 10s." +
		" Alternatively, this can be set with the following environment variable: " + timeoutEnvKey

	runTimeoutFlagName  = "run-timeout"
	runTimeoutEnvKey    = "DIDCHAIN_VERIFY_RUN_TIMEOUT"
	runTimeoutFlagUsage = "Deadline of the whole verification run. Defaults to 5m." +
		" Alternatively, this can be set with the following environment variable: " + runTimeoutEnvKey

	retriesFlagName  = "retries"
	retriesEnvKey    = "DIDCHAIN_VERIFY_RETRIES"
	retriesFlagUsage = "How many times a transient failure is retried. Defaults to 3." +
		" Alternatively, this can be set with the following environment variable: " + retriesEnvKey

	tlsCAFileFlagName  = "tls-ca-file"
	tlsCAFileEnvKey    = "DIDCHAIN_VERIFY_TLS_CA_FILE"
	tlsCAFileFlagUsage = "PEM file of additional CA certificates to trust." +
		" Alternatively, this can be set with the following environment variable: " + tlsCAFileEnvKey

	defaultTimeout    = 10 * time.Second
	defaultRunTimeout = 5 * time.Minute
	defaultRetries    = 3
	retryInterval     = 200 * time.Millisecond
)

var errNoCertificates = errors.New("no PEM certificates found")

type report struct {
	RunID      string `json:"runId"`
	Identifier string `json:"identifier"`
	Anchor     int    `json:"anchorVersion"`
	Head       int    `json:"verifiedVersion"`
	State      string `json:"state"`
}

// GetVerifyCmd returns the Cobra verify command.
func GetVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the version chain of a did:web identifier",
		Long: "Walks the versions of a did:web identifier forward from a trusted anchor version," +
			" checking the proof published for each one. Exits with an error at the first version that fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier, err := cmdutils.GetUserSetVar(cmd, didFlagName, didEnvKey, false)
			if err != nil {
				return err
			}

			anchor, err := getAnchorVersion(cmd)
			if err != nil {
				return err
			}

			runTimeout, err := cmdutils.GetDuration(cmd, runTimeoutFlagName, runTimeoutEnvKey, defaultRunTimeout)
			if err != nil {
				return err
			}

			opts, err := getResolverOptions(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()

			result, err := verifier.New(resolver.New(opts...)).Verify(ctx, identifier, anchor)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(&report{
				RunID:      result.RunID,
				Identifier: result.Identifier,
				Anchor:     result.Anchor,
				Head:       result.Head,
				State:      string(result.State),
			})
		},
	}

	createFlags(verifyCmd)

	return verifyCmd
}

func createFlags(verifyCmd *cobra.Command) {
	verifyCmd.Flags().String(didFlagName, "", didFlagUsage)
	verifyCmd.Flags().String(anchorVersionFlagName, "", anchorVersionFlagUsage)
	verifyCmd.Flags().String(timeoutFlagName, "", timeoutFlagUsage)
	verifyCmd.Flags().String(runTimeoutFlagName, "", runTimeoutFlagUsage)
	verifyCmd.Flags().String(retriesFlagName, "", retriesFlagUsage)
	verifyCmd.Flags().String(tlsCAFileFlagName, "", tlsCAFileFlagUsage)
}

func getAnchorVersion(cmd *cobra.Command) (int, error) {
	value, err := cmdutils.GetUserSetVar(cmd, anchorVersionFlagName, anchorVersionEnvKey, false)
	if err != nil {
		return 0, err
	}

	anchor, err := strconv.Atoi(value)
	if err != nil || anchor < 1 {
		return 0, fmt.Errorf("invalid value [%s] for %s: must be a positive integer", value, anchorVersionFlagName)
	}

	return anchor, nil
}

func getResolverOptions(cmd *cobra.Command) ([]resolver.Option, error) {
	timeout, err := cmdutils.GetDuration(cmd, timeoutFlagName, timeoutEnvKey, defaultTimeout)
	if err != nil {
		return nil, err
	}

	retries, err := cmdutils.GetUint(cmd, retriesFlagName, retriesEnvKey, defaultRetries)
	if err != nil {
		return nil, err
	}

	opts := []resolver.Option{
		resolver.WithTimeout(timeout),
		resolver.WithRetry(retries, retryInterval),
	}

	caFile, err := cmdutils.GetUserSetVar(cmd, tlsCAFileFlagName, tlsCAFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	if caFile != "" {
		tlsConfig, err := tlsConfigWithCA(caFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, resolver.WithTLSConfig(tlsConfig))
	}

	return opts, nil
}

// tlsConfigWithCA trusts the system roots plus the certificates in caFile.
func tlsConfigWithCA(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", caFile, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: %w", caFile, errNoCertificates)
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
