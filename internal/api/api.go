package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"

	"github.com/pagechat/pagechat/pkg/auth"
	"github.com/pagechat/pagechat/pkg/chat"
	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/user"
)

type ApiConfig struct {
	TokenOptions auth.TokenOptions
	// PageCapacity is the number of message IDs per room message page.
	// Zero means chat.DefaultPageCapacity.
	PageCapacity int
	// MaxCatchUp caps the number of messages a single catch-up fetch returns.
	MaxCatchUp int
	// AllowedOrigins configures CORS for browser clients.
	AllowedOrigins []string
}

const DefaultMaxCatchUp = 500

type Api struct {
	mux    *ApiMux
	config ApiConfig
	log    *slog.Logger

	users user.Store
	chats chat.ChatStore
	auth  auth.Auth
}

func NewApi(db *docstore.DB, log *slog.Logger, config ApiConfig) *Api {
	if config.MaxCatchUp <= 0 {
		config.MaxCatchUp = DefaultMaxCatchUp
	}

	userStore := user.NewBadgerStore(db)
	chatStore := chat.NewBadgerChatStore(db, userStore, log, chat.Options{PageCapacity: config.PageCapacity})

	a := &Api{
		mux:    NewApiMux(log),
		config: config,
		log:    log,
		users:  userStore,
		chats:  chatStore,
		auth:   auth.NewBadgerAuth(userStore, db, config.TokenOptions),
	}
	a.mountHandlers()
	return a
}

func (a *Api) Mux() http.Handler {
	return a.mux
}

func (a *Api) mountHandlers() {
	userHandler := NewUserHandler(a.users, a.auth)
	sessionHandler := NewSessionHandler(a.auth)
	roomHandler := NewRoomHandler(a.chats)
	messageHandler := NewMessageHandler(a.chats, a.config.MaxCatchUp)

	if len(a.config.AllowedOrigins) > 0 {
		a.mux.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.config.AllowedOrigins,
			AllowCredentials: true,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
		}))
	}

	a.mux.Route("/users", func(r *ApiMux) {
		r.Post("/", userHandler.RegisterHandler)
		r.Get("/phone/{phoneNumber}", MaybeBearerMiddleware(a.auth)(userHandler.GetUserByPhoneHandler))
		r.Get("/{userID}", MaybeBearerMiddleware(a.auth)(userHandler.GetUserByIDHandler))
	})

	a.mux.Route("/sessions", func(r *ApiMux) {
		r.Post("/", sessionHandler.LoginHandler)
		r.With(BearerMiddleware(a.auth)).Delete("/", sessionHandler.LogoutHandler)
	})

	a.mux.Route("/rooms", func(r *ApiMux) {
		r.Post("/", roomHandler.CreateRoomHandler)
		r.Get("/{roomID}", roomHandler.GetRoomByIDHandler)
		r.With(BearerMiddleware(a.auth)).Post("/{roomID}/users/{userID}", roomHandler.JoinRoomHandler)
		r.With(BearerMiddleware(a.auth)).Get("/{roomID}/latest/{updateTime}/{messageCount}", messageHandler.CatchUpHandler)
	})

	a.mux.With(BearerMiddleware(a.auth)).Post("/messages", messageHandler.PostMessageHandler)
}
