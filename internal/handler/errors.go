package handler

import (
	"net/http"

	"github.com/xenking/keydash/pkg/httpmiddleware"
)

// Error codes of the JSON error envelope.
const (
	codeInvalidRequest       = "invalid_request"
	codeConfirmationRequired = "confirmation_required"
	codeNotFound             = "not_found"
	codeStoreError           = "store_error"
	codeInternal             = "internal"
)

func writeInvalid(w http.ResponseWriter, message string) {
	httpmiddleware.WriteError(w, http.StatusBadRequest, codeInvalidRequest, message)
}

func writeNotFound(w http.ResponseWriter, what string) {
	httpmiddleware.WriteError(w, http.StatusNotFound, codeNotFound, what+" not found")
}

// writeStoreFailure reports a failed store round trip as a bad gateway.
func writeStoreFailure(w http.ResponseWriter, message string) {
	httpmiddleware.WriteError(w, http.StatusBadGateway, codeStoreError, message)
}
