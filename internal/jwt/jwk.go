package jwt

import (
	"github.com/go-jose/go-jose/v4"
)

// JWKS returns the public JSON Web Key Set for the access-token signing
// key. Only the access key is published — the refresh key never leaves the
// service, since refresh tokens are never verified by a third party.
func (m *KeyManager) JWKS() jose.JSONWebKeySet {
	jwk := jose.JSONWebKey{
		Key:       m.Access.Public,
		KeyID:     m.Access.KeyID,
		Use:       "sig",
		Algorithm: string(jose.RS256),
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}
}

// JWKS delegates to the Generator's key manager, so handlers never need a
// direct reference to the KeyManager.
func (g *Generator) JWKS() jose.JSONWebKeySet {
	return g.keys.JWKS()
}
