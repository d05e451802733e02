package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"keyserve.app/cloud/internal/storage"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// requireSession resolves the bearer token to an account. Session issuance
// happens elsewhere; this service only looks tokens up.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		account, err := s.store.FindAccountBySessionToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey).(string)
	return id
}
