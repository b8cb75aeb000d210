package secerr

import "net/http"

// Type is the client-facing error category in the envelope "type" field.
type Type string

const (
	TypeAuthentication   Type = "AUTHENTICATION_ERROR"
	TypeAuthorization    Type = "AUTHORIZATION_ERROR"
	TypeInvalidToken     Type = "INVALID_TOKEN"
	TypeTokenExpired     Type = "TOKEN_EXPIRED"
	TypeTokenInvalidated Type = "TOKEN_INVALIDATED"
	TypeCSRF             Type = "CSRF_ERROR"
	TypeValidation       Type = "VALIDATION_ERROR"
	TypeNotFound         Type = "RESOURCE_NOT_FOUND"
	TypeConflict         Type = "RESOURCE_CONFLICT"
	TypeServer           Type = "SERVER_ERROR"
	TypeRateLimit        Type = "RATE_LIMIT_ERROR"
)

// Kind is the internal failure tag. It is finer than Type:
// KindInvalidCredentials reports as TypeAuthentication.
type Kind uint8

const (
	KindServer Kind = iota
	KindAuthentication
	KindInvalidCredentials
	KindInvalidToken
	KindTokenExpired
	KindTokenInvalidated
	KindAuthorization
	KindCSRF
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
)

var kindInfo = map[Kind]struct {
	typ    Type
	status int
	name   string
}{
	KindServer:             {TypeServer, http.StatusInternalServerError, "server"},
	KindAuthentication:     {TypeAuthentication, http.StatusUnauthorized, "authentication"},
	KindInvalidCredentials: {TypeAuthentication, http.StatusUnauthorized, "invalid_credentials"},
	KindInvalidToken:       {TypeInvalidToken, http.StatusUnauthorized, "invalid_token"},
	KindTokenExpired:       {TypeTokenExpired, http.StatusUnauthorized, "token_expired"},
	KindTokenInvalidated:   {TypeTokenInvalidated, http.StatusUnauthorized, "token_invalidated"},
	KindAuthorization:      {TypeAuthorization, http.StatusForbidden, "authorization"},
	KindCSRF:               {TypeCSRF, http.StatusForbidden, "csrf"},
	KindValidation:         {TypeValidation, http.StatusUnprocessableEntity, "validation"},
	KindNotFound:           {TypeNotFound, http.StatusNotFound, "not_found"},
	KindConflict:           {TypeConflict, http.StatusConflict, "conflict"},
	KindRateLimited:        {TypeRateLimit, http.StatusTooManyRequests, "rate_limited"},
}

// Type returns the envelope category for k.
func (k Kind) Type() Type {
	if info, ok := kindInfo[k]; ok {
		return info.typ
	}
	return TypeServer
}

// Status returns the fixed HTTP status for k.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return "server"
}
