package session

import (
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity claims read from the auth token.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org,omitempty"`
}

// IdentityFromToken extracts the account scope from an auth token. The
// signature is not checked; the identity provider verified the token before
// handing it over.
func IdentityFromToken(token string) (models.Scope, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return models.Scope{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return models.Scope{}, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	return models.Scope{AccountID: claims.Subject, OrganizationID: claims.OrganizationID}, nil
}
