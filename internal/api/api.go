// Package api is the relay's HTTP surface: the thin I/O layer that lets
// remote clients reach the shared store and its change feed. No business
// logic lives here; rooms, messages and games are validated by the clients
// that write them.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"

	"example.com/playchat/auth"
	"example.com/playchat/realtime"
	"example.com/playchat/store"
)

type ApiConfig struct {
	AllowedOrigins []string
}

type Api struct {
	store    store.Store
	identity auth.Identity
	mux      *ApiMux
	logger   *slog.Logger
	config   ApiConfig
}

func NewApi(s store.Store, identity auth.Identity, logger *slog.Logger, config ApiConfig) *Api {
	api := &Api{
		store:    s,
		identity: identity,
		mux:      NewApiMux(logger),
		logger:   logger,
		config:   config,
	}
	api.mountHandlers()
	return api
}

func (a *Api) Mux() http.Handler {
	return a.mux
}

func (a *Api) mountHandlers() {
	authHandler := NewAuthHandler(a.identity, a.store)
	roomHandler := NewRoomHandler(a.store)
	gameHandler := NewGameHandler(a.store)

	allowedOrigins := a.config.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	a.mux.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	}))

	a.mux.Route("/auth", func(r *ApiMux) {
		r.Post("/signup", authHandler.SignupHandler)
		r.Post("/signin", authHandler.SigninHandler)
		r.With(JWTMiddleware(a.identity)).Get("/me", authHandler.MeHandler)
	})

	a.mux.Route("/rooms", func(r *ApiMux) {
		r.Use(JWTMiddleware(a.identity))
		r.Post("/", roomHandler.CreateRoomHandler)
		r.Get("/", roomHandler.ListRoomsHandler)
		r.Get("/{roomID}", roomHandler.GetRoomHandler)
		r.Put("/{roomID}", roomHandler.UpdateRoomHandler)
		r.Get("/{roomID}/messages", roomHandler.ListMessagesHandler)
		r.Post("/{roomID}/messages", roomHandler.SendMessageHandler)
	})

	a.mux.Route("/games", func(r *ApiMux) {
		r.Use(JWTMiddleware(a.identity))
		r.Post("/", gameHandler.CreateGameHandler)
		r.Get("/{gameID}", gameHandler.GetGameHandler)
		r.Put("/{gameID}", gameHandler.UpdateGameHandler)
	})

	a.mux.Router.Get("/realtime", realtime.Handler(a.store, a.identity, a.logger))
}
