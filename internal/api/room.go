package api

import (
	"errors"
	"net/http"

	"github.com/samber/lo"

	"github.com/pagechat/pagechat/pkg/chat"
	"github.com/pagechat/pagechat/pkg/id"
)

type RoomHandler struct {
	chatStore chat.ChatStore
}

func NewRoomHandler(chatStore chat.ChatStore) *RoomHandler {
	return &RoomHandler{chatStore: chatStore}
}

type CreateRoomPayload struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type RoomResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Members      []string `json:"members"`
	MessageCount int      `json:"messageCount"`
	UpdateTime   int64    `json:"updateTime"`
	PageIDs      []string `json:"pageIds"`
}

func NewRoomResponse(room chat.Room) RoomResponse {
	toString := func(v id.ID, _ int) string { return v.String() }
	return RoomResponse{
		ID:           room.ID.String(),
		Name:         room.Name,
		Members:      lo.Map(room.Members, toString),
		MessageCount: room.MessageCount,
		UpdateTime:   room.UpdateTime,
		PageIDs:      lo.Map(room.PageIDs, toString),
	}
}

func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CreateRoomPayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	defer r.Body.Close()

	members := make([]id.ID, 0, len(payload.Members))
	for _, raw := range payload.Members {
		memberID, err := id.Parse(raw)
		if err != nil {
			return NewApiError("invalid member id", http.StatusBadRequest)
		}
		members = append(members, memberID)
	}

	created, err := h.chatStore.CreateRoom(r.Context(), chat.RoomCreateInput{
		Name:    payload.Name,
		Members: members,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidRoom):
			return NewApiError(err.Error(), http.StatusBadRequest)
		case errors.Is(err, chat.ErrReferenceNotFound):
			return NewApiError(err.Error(), http.StatusNotFound)
		default:
			return err
		}
	}

	return WriteJsonResponse(w, NewRoomResponse(*created), http.StatusCreated)
}

func (h *RoomHandler) GetRoomByIDHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := id.Parse(r.PathValue("roomID"))
	if err != nil {
		return NewApiError("room not found", http.StatusNotFound)
	}

	room, err := h.chatStore.GetRoomByID(r.Context(), roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return NewApiError("room not found", http.StatusNotFound)
	}

	return WriteJsonResponse(w, NewRoomResponse(*room), http.StatusOK)
}

func (h *RoomHandler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := id.Parse(r.PathValue("roomID"))
	if err != nil {
		return NewApiError("room not found", http.StatusNotFound)
	}
	userID, err := id.Parse(r.PathValue("userID"))
	if err != nil {
		return NewApiError("user not found", http.StatusNotFound)
	}

	if err := h.chatStore.AddMember(r.Context(), roomID, userID); err != nil {
		switch {
		case errors.Is(err, chat.ErrReferenceNotFound):
			return NewApiError(err.Error(), http.StatusNotFound)
		case errors.Is(err, chat.ErrAlreadyMember):
			return NewApiError(err.Error(), http.StatusConflict)
		default:
			return err
		}
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}
