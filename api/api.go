// Package api embeds the OpenAPI document for the HTTP interface.
package api

import _ "embed"

// Spec is the OpenAPI 3 document, served at /openapi.yaml.
//
//go:embed openapi.yaml
var Spec []byte
