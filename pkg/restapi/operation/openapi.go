/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import "github.com/trustbloc/didchain/pkg/restapi/models"

// genericError model
//
// swagger:response genericError
type genericError struct { // nolint: unused,deadcode
	// in: body
	ErrMsg string
}

// readDocumentReq model
//
// swagger:parameters readDocumentReq
type readDocumentReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	Path string `json:"path"`
	// in: query
	VersionID int `json:"versionId"`
}

// readDocumentRes model
//
// swagger:response readDocumentRes
type readDocumentRes struct { // nolint: unused,deadcode
	// in: body
	Document models.DocumentVersion
}

// readMetadataReq model
//
// swagger:parameters readMetadataReq
type readMetadataReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	Path string `json:"path"`
	// in: query
	// required: true
	VersionID int `json:"versionId"`
}

// readMetadataRes model
//
// swagger:response readMetadataRes
type readMetadataRes struct { // nolint: unused,deadcode
	// in: body
	Metadata models.MetadataRecord
}

// readProofsReq model
//
// swagger:parameters readProofsReq
type readProofsReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	Path string `json:"path"`
}

// readProofsRes model
//
// swagger:response readProofsRes
type readProofsRes struct { // nolint: unused,deadcode
	// in: body
	Proofs models.ProofCollection
}

// updateReq model
//
// swagger:parameters updateReq
type updateReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	Path string `json:"path"`
	// in: header
	Authorization string
}

// updateRes model
//
// swagger:response updateRes
type updateRes struct { // nolint: unused,deadcode
	Location string
	// in: body
	Metadata models.MetadataRecord
}

// changeLogSpecReq model
//
// swagger:parameters changeLogSpecReq
type changeLogSpecReq struct { // nolint: unused,deadcode
	// in: body
	Body struct {
		// The new log specification
		//
		// Required: true
		// Example: restapi=debug:didchain-issuer=critical:error
		Spec string `json:"spec"`
	}
}

// emptyRes model
//
// swagger:response emptyRes
type emptyRes struct { // nolint: unused,deadcode
}
