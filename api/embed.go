// Package api 内嵌 OpenAPI 文档
package api

import _ "embed"

// Spec OpenAPI 3.0 文档，由 GET /api/openapi.yaml 对外提供
//
//go:embed openapi/openapi.yaml
var Spec []byte
