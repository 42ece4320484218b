package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/pagechat/pagechat/pkg/auth"
)

type SessionHandler struct {
	auth auth.Auth
}

func NewSessionHandler(auth auth.Auth) *SessionHandler {
	return &SessionHandler{auth: auth}
}

type LoginPayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type LoginResponse struct {
	UserID   string    `json:"userId"`
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expireAt"`
}

func (h *SessionHandler) LoginHandler(w http.ResponseWriter, r *http.Request) error {
	var payload LoginPayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	defer r.Body.Close()

	token, userID, exp, err := h.auth.NewSession(r.Context(), payload.PhoneNumber, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			return NewApiError(err.Error(), http.StatusUnauthorized)
		}
		return err
	}

	return WriteJsonResponse(w, LoginResponse{
		UserID:   userID.String(),
		Token:    token,
		ExpireAt: exp,
	}, http.StatusCreated)
}

func (h *SessionHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) error {
	if err := h.auth.DestroySession(r.Context(), bearerToken(r)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
