/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/didchain/pkg/chainerrors"
	"github.com/trustbloc/didchain/pkg/didweb"
	"github.com/trustbloc/didchain/pkg/issuer"
	"github.com/trustbloc/didchain/pkg/restapi/messages"
)

const bearerScheme = "Bearer "

// identifierFromRequest maps the path variable to an identifier and writes a response if it can't.
func (c *Operation) identifierFromRequest(rw http.ResponseWriter, req *http.Request) (*didweb.Identifier, bool) {
	resourcePath := mux.Vars(req)[pathVariable]

	id, err := didweb.FromResourcePath(c.issuer.Host(), resourcePath)
	if err != nil {
		logger.Infof(messages.InvalidResourcePath, resourcePath, err)

		rw.WriteHeader(http.StatusNotFound)

		_, errWrite := rw.Write([]byte(fmt.Sprintf(messages.InvalidResourcePath, resourcePath, err)))
		if errWrite != nil {
			logger.Errorf(messages.InvalidResourcePath+messages.FailWriteResponse, resourcePath, err, errWrite)
		}

		return nil, false
	}

	return id, true
}

func (c *Operation) authorized(req *http.Request) bool {
	if c.adminToken == "" {
		return true
	}

	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerScheme) {
		return false
	}

	token := strings.TrimPrefix(header, bearerScheme)

	return subtle.ConstantTimeCompare([]byte(token), []byte(c.adminToken)) == 1
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, messages.ErrInvalidVersionSelector), errors.Is(err, chainerrors.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, chainerrors.ErrNotFound), errors.Is(err, issuer.ErrForeignIdentifier):
		return http.StatusNotFound
	case errors.Is(err, chainerrors.ErrNonContiguousVersion):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// applyLogSpec parses ModuleName1=Level1:ModuleName2=Level2:DefaultLevel and applies it.
// Nothing is applied unless the whole spec is valid.
func applyLogSpec(spec string) error {
	levels := make(map[string]log.Level)

	defaultSet := false

	for _, entry := range strings.Split(spec, ":") {
		module, levelName := "", entry

		if i := strings.Index(entry, "="); i >= 0 {
			module, levelName = entry[:i], entry[i+1:]

			if module == "" {
				return fmt.Errorf("empty module name in %q", entry)
			}
		} else {
			if defaultSet {
				return errors.New("multiple default levels")
			}

			defaultSet = true
		}

		level, err := log.ParseLevel(levelName)
		if err != nil {
			return err
		}

		levels[module] = level
	}

	for module, level := range levels {
		log.SetLevel(module, level)
	}

	return nil
}
