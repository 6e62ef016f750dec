// Package common contains shared constants and sentinel errors used across
// chatkeeper components.
package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "authorization"

// APIKeyHeaderName carries the client API key on pairing endpoints.
const APIKeyHeaderName = "x-api-key"
