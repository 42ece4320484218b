package api

import (
	"errors"
	"net/http"

	"github.com/samber/lo"

	"github.com/pagechat/pagechat/pkg/auth"
	"github.com/pagechat/pagechat/pkg/id"
	"github.com/pagechat/pagechat/pkg/user"
)

type UserHandler struct {
	userStore user.Store
	auth      auth.Auth
}

func NewUserHandler(userStore user.Store, auth auth.Auth) *UserHandler {
	return &UserHandler{userStore: userStore, auth: auth}
}

type RegisterPayload struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// UserResponse is the public view of a user. PhoneNumber and Rooms are only
// populated for authenticated callers.
type UserResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Rooms       []string `json:"rooms,omitempty"`
}

func NewUserResponse(u user.User, authenticated bool) UserResponse {
	response := UserResponse{
		ID:   u.ID.String(),
		Name: u.Name,
	}
	if authenticated {
		response.PhoneNumber = u.PhoneNumber
		response.Rooms = lo.Map(u.Rooms, func(roomID id.ID, _ int) string {
			return roomID.String()
		})
	}
	return response
}

func (h *UserHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) error {
	var payload RegisterPayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	defer r.Body.Close()

	created, err := h.userStore.Create(r.Context(), user.CreateInput{
		Name:        payload.Name,
		PhoneNumber: payload.PhoneNumber,
		Password:    payload.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidInput):
			return NewApiError(err.Error(), http.StatusBadRequest)
		case errors.Is(err, user.ErrConflictedUser):
			return NewApiError(err.Error(), http.StatusConflict)
		default:
			return err
		}
	}

	return WriteJsonResponse(w, NewUserResponse(*created, true), http.StatusCreated)
}

func (h *UserHandler) GetUserByIDHandler(w http.ResponseWriter, r *http.Request) error {
	userID, err := id.Parse(r.PathValue("userID"))
	if err != nil {
		return NewApiError("user not found", http.StatusNotFound)
	}

	found, err := h.userStore.GetByID(r.Context(), userID)
	if err != nil {
		return err
	}
	if found == nil {
		return NewApiError("user not found", http.StatusNotFound)
	}

	_, authenticated := auth.SessionFromContext(r.Context())
	return WriteJsonResponse(w, NewUserResponse(*found, authenticated), http.StatusOK)
}

func (h *UserHandler) GetUserByPhoneHandler(w http.ResponseWriter, r *http.Request) error {
	found, err := h.userStore.GetByPhone(r.Context(), r.PathValue("phoneNumber"))
	if err != nil {
		return err
	}
	if found == nil {
		return NewApiError("user not found", http.StatusNotFound)
	}

	_, authenticated := auth.SessionFromContext(r.Context())
	return WriteJsonResponse(w, NewUserResponse(*found, authenticated), http.StatusOK)
}
