/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messages

const (
	// ErrUnauthorized is used when an update request does not carry the configured admin token.
	ErrUnauthorized = restError("missing or invalid admin token")
	// ErrInvalidVersionSelector is used when the versionId query parameter is not a positive integer.
	ErrInvalidVersionSelector = restError("versionId must be a positive integer")

	// DebugLogEvent is used for logging debug events.
	DebugLogEvent = "Event: %s"
	// DebugLogEventWithReceivedData is used for logging debug events that include data received from the sender.
	DebugLogEventWithReceivedData = DebugLogEvent + " Received data: %s"

	// FailWriteResponse is logged when a ResponseWriter fails to write.
	FailWriteResponse = ` Failed to write response back to sender: %s.`

	// InvalidResourcePath is used when the request path does not map to an identifier.
	InvalidResourcePath = "Received request for %s, which does not name an identifier: %s."

	// ReadDocumentReceiveRequest is used when a request to read a document version is received.
	ReadDocumentReceiveRequest = "Received request to read version %s of %s."
	// ReadDocumentFailure is used when a document version could not be read.
	ReadDocumentFailure = "Failed to read version %s of %s: %s."
	// ReadDocumentSuccess is used when a document version is successfully read.
	ReadDocumentSuccess = "Successfully retrieved version %d of %s."

	// ReadMetadataFailure is used when a metadata record could not be produced.
	ReadMetadataFailure = "Failed to read metadata of version %s of %s: %s."

	// ReadProofsFailure is used when the proof collection could not be read.
	ReadProofsFailure = "Failed to read proofs of %s: %s."

	// UpdateReceiveRequest is used when a request to append a version is received.
	UpdateReceiveRequest = "Received request to append a version to %s."
	// UpdateFailure is used when a version could not be appended.
	UpdateFailure = "Failed to append a version to %s: %s."
	// UpdateSuccess is used when a version was appended.
	UpdateSuccess = "Successfully appended version %d to %s."

	// FailToMarshalResponse is used when a response body can't be marshalled.
	// This should not happen during normal operation.
	FailToMarshalResponse = "Failed to marshal response for %s: %s."

	// PutLogSpecFailReadRequestBody is used when the incoming request body can't be read.
	// This should not happen during normal operation.
	PutLogSpecFailReadRequestBody = "Received request to change the log spec, but failed to read the request body: %s."
	// InvalidLogSpec is used when a request is made to change the current log specification
	// but it is in an invalid format.
	InvalidLogSpec = `Invalid log spec: %s. It needs to be in the following format: ` +
		`ModuleName1=Level1:ModuleName2=Level2:ModuleNameN=LevelN:AllOtherModuleDefaultLevel
Valid log levels: critical,error,warn,info,debug`
	// SetLogSpecSuccess is used when the current log specification is successfully changed.
	SetLogSpecSuccess = "Successfully set log level(s)."
)

type restError string

// Error returns the associated error message.
// This satisfies the built-in error interface.
func (e restError) Error() string { return string(e) }
