package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"quizduel/internal/errors"
)

// authenticate extracts and verifies the player identity from the websocket
// handshake. Identity is established exactly once here; no per-event payload
// is ever trusted for it.
func (a *API) authenticate(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if raw == "" {
		return "", errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing auth token"))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("unexpected signing method %q", t.Method.Alg()))
		}
		return []byte(a.authSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid auth token"), errors.WithCause(err))
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("token has no subject"))
	}

	return sub, nil
}
