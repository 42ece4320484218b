package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/pagechat/pagechat/pkg/chat"
	"github.com/pagechat/pagechat/pkg/id"
)

type MessageHandler struct {
	chatStore  chat.ChatStore
	maxCatchUp int
}

func NewMessageHandler(chatStore chat.ChatStore, maxCatchUp int) *MessageHandler {
	return &MessageHandler{chatStore: chatStore, maxCatchUp: maxCatchUp}
}

type PostMessagePayload struct {
	RoomID  string           `json:"roomId"`
	Type    chat.MessageType `json:"type"`
	Content string           `json:"content"`
}

type MessageResponse struct {
	ID        string           `json:"id"`
	SenderID  string           `json:"senderId"`
	RoomID    string           `json:"roomId"`
	Type      chat.MessageType `json:"type"`
	Content   string           `json:"content"`
	CreatedAt int64            `json:"createdAt"`
}

func NewMessageResponse(message chat.Message) MessageResponse {
	return MessageResponse{
		ID:        message.ID.String(),
		SenderID:  message.SenderID.String(),
		RoomID:    message.RoomID.String(),
		Type:      message.Type,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
}

func (h *MessageHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var payload PostMessagePayload
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	defer r.Body.Close()

	roomID, err := id.Parse(payload.RoomID)
	if err != nil {
		return NewApiError("invalid room id", http.StatusBadRequest)
	}

	session := sessionFromRequest(r)

	created, err := h.chatStore.PostMessage(r.Context(), chat.MessageCreateInput{
		SenderID: session.UserID,
		RoomID:   roomID,
		Type:     payload.Type,
		Content:  payload.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidMessage):
			return NewApiError(err.Error(), http.StatusBadRequest)
		case errors.Is(err, chat.ErrReferenceNotFound):
			return NewApiError(err.Error(), http.StatusNotFound)
		default:
			return err
		}
	}

	return WriteJsonResponse(w, NewMessageResponse(*created), http.StatusCreated)
}

// CatchUpHandler serves GET /rooms/{roomID}/latest/{updateTime}/{messageCount}:
// the messages the client is missing relative to its watermark, newest first.
func (h *MessageHandler) CatchUpHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := id.Parse(r.PathValue("roomID"))
	if err != nil {
		return NewApiError("room not found", http.StatusNotFound)
	}
	updateTime, err := strconv.ParseInt(r.PathValue("updateTime"), 10, 64)
	if err != nil || updateTime < 0 {
		return NewApiError("invalid watermark", http.StatusBadRequest)
	}
	messageCount, err := strconv.Atoi(r.PathValue("messageCount"))
	if err != nil || messageCount < 0 {
		return NewApiError("invalid watermark", http.StatusBadRequest)
	}

	mark := chat.Watermark{UpdateTime: updateTime, MessageCount: messageCount}
	messages, err := h.chatStore.FetchSince(r.Context(), roomID, mark, h.maxCatchUp)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrReferenceNotFound):
			return NewApiError(err.Error(), http.StatusNotFound)
		case errors.Is(err, chat.ErrStaleWatermark):
			return NewApiError(err.Error(), http.StatusConflict)
		default:
			return err
		}
	}

	response := lo.Map(messages, func(message chat.Message, _ int) MessageResponse {
		return NewMessageResponse(message)
	})
	return WriteJsonResponse(w, response, http.StatusOK)
}
