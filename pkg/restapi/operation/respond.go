/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/trustbloc/didchain/pkg/restapi/messages"
)

const contentTypeJSON = "application/json"

func writeReadFailure(rw http.ResponseWriter, message string, errRead error, args ...interface{}) {
	args = append(args, errRead)

	logger.Infof(message, args...)

	rw.WriteHeader(statusFor(errRead))

	_, errWrite := rw.Write([]byte(fmt.Sprintf(message, args...)))
	if errWrite != nil {
		logger.Errorf(message+messages.FailWriteResponse, append(args, errWrite)...)
	}
}

func writeReadSuccess(rw http.ResponseWriter, body []byte, successMessage string) {
	logger.Debugf(messages.DebugLogEvent, successMessage)

	rw.Header().Set("Content-Type", contentTypeJSON)

	_, errWrite := rw.Write(body)
	if errWrite != nil {
		logger.Errorf(successMessage+messages.FailWriteResponse, errWrite)
	}
}

func writeJSON(rw http.ResponseWriter, statusCode int, v interface{}, identifier string) {
	body, err := json.Marshal(v)
	if err != nil {
		writeErrorWithIdentifier(rw, http.StatusInternalServerError, messages.FailToMarshalResponse, err, identifier)
		return
	}

	rw.Header().Set("Content-Type", contentTypeJSON)
	rw.WriteHeader(statusCode)

	_, errWrite := rw.Write(body)
	if errWrite != nil {
		logger.Errorf("Failed to write response for %s: %s", identifier, errWrite)
	}
}

func writeErrorWithIdentifier(rw http.ResponseWriter, statusCode int, message string, err error,
	identifier string) {
	logger.Errorf(message, identifier, err)

	rw.WriteHeader(statusCode)

	_, errWrite := rw.Write([]byte(fmt.Sprintf(message, identifier, err)))
	if errWrite != nil {
		logger.Errorf(message+messages.FailWriteResponse, identifier, err, errWrite)
	}
}

func writePutLogSpecRequestReadFailure(rw http.ResponseWriter, errBodyRead error) {
	logger.Errorf(messages.PutLogSpecFailReadRequestBody, errBodyRead)

	rw.WriteHeader(http.StatusInternalServerError)

	_, errWrite := rw.Write([]byte(fmt.Sprintf(messages.PutLogSpecFailReadRequestBody, errBodyRead)))
	if errWrite != nil {
		logger.Errorf(messages.PutLogSpecFailReadRequestBody+messages.FailWriteResponse, errBodyRead, errWrite)
	}
}

// Always prints out full debug data at the "error" level, since the method that calls this one is the one
// that allows log levels to be updated. The caller may need the extra information to diagnose the issue, and of course
// won't be able to change the log level to debug until they get this working.
func writeInvalidLogSpec(rw http.ResponseWriter, err error, receivedData []byte) {
	logger.Errorf(messages.DebugLogEventWithReceivedData, fmt.Sprintf(messages.InvalidLogSpec, err), receivedData)

	rw.WriteHeader(http.StatusBadRequest)

	_, errWrite := rw.Write([]byte(fmt.Sprintf(messages.InvalidLogSpec, err)))
	if errWrite != nil {
		logger.Errorf(messages.DebugLogEventWithReceivedData,
			fmt.Sprintf(messages.InvalidLogSpec+messages.FailWriteResponse, err, errWrite), receivedData)
	}
}

func writePutLogSpecSuccess(rw io.Writer, requestBody []byte) {
	_, errWrite := rw.Write([]byte(messages.SetLogSpecSuccess))
	if errWrite != nil {
		logger.Errorf(messages.SetLogSpecSuccess+messages.FailWriteResponse, errWrite)
		logger.Debugf(messages.DebugLogEventWithReceivedData,
			fmt.Sprintf(messages.SetLogSpecSuccess+messages.FailWriteResponse, errWrite), requestBody)
	}
}
