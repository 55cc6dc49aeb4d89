// Package api embeds the HTTP API description served at /openapi.yaml.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
