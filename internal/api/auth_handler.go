package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/playchat/auth"
	"example.com/playchat/store"
)

type AuthHandler struct {
	identity auth.Identity
	store    store.Store
}

func NewAuthHandler(identity auth.Identity, s store.Store) *AuthHandler {
	return &AuthHandler{identity: identity, store: s}
}

type SignupPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SigninPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SigninResponse struct {
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expire_at"`
}

func (h *AuthHandler) SignupHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SignupPayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	if payload.Username == "" || payload.Password == "" {
		return NewApiError("username and password are required", http.StatusBadRequest)
	}

	profile, err := h.identity.SignUp(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return NewApiError(store.ErrDuplicateUsername.Error(), http.StatusConflict)
		}
		return err
	}

	return WriteJsonResponseWithStatusCode(w, profile, http.StatusCreated)
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	token, exp, err := h.identity.SignIn(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			return NewApiError(auth.ErrBadCredentials.Error(), http.StatusUnauthorized)
		}
		return err
	}

	return WriteJsonResponse(w, SigninResponse{Token: token, ExpireAt: exp})
}

func (h *AuthHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromContext(r.Context())

	profile, err := h.store.ProfileByID(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		return NewApiError("profile not found", http.StatusNotFound)
	}

	return WriteJsonResponse(w, profile)
}

// BearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter for websocket dials.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return r.URL.Query().Get("access_token")
}

// JWTMiddleware validates the request's bearer token and attaches the
// session to the request context. Subsequent handlers may assume the
// session is present.
func JWTMiddleware(identity auth.Identity) ApiMiddleware {
	authErr := NewApiError("unauthenticated", http.StatusUnauthorized)

	return func(next http.Handler) ApiHandleFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			token := BearerToken(r)
			if token == "" {
				return authErr
			}

			session, err := identity.Session(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					return authErr
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), *session)))
			return nil
		}
	}
}
