// Package swaggerkit serves the embedded OpenAPI document and Swagger UI
package swaggerkit

import (
	_ "embed"

	phttp "mquery/internal/platform/net/http"
)

//go:embed openapi.json
var doc []byte

// Doc returns the embedded OpenAPI document
func Doc() []byte { return doc }

// Mount serves /swagger/doc.json and the UI under /swagger/ when enabled
func Mount(r phttp.Router, enabled bool) {
	if !enabled {
		return
	}
	phttp.MountSwagger(r, doc)
}
