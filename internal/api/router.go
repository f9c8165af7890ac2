package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ApiMux wraps chi.Router so handlers can return errors. A returned
// *ApiError is written as-is; any other error becomes a 500 with the
// original error logged.
type ApiMux struct {
	chi.Router
	logger *slog.Logger
}

func NewApiMux(logger *slog.Logger) *ApiMux {
	return &ApiMux{
		Router: chi.NewRouter(),
		logger: logger,
	}
}

type ApiHandleFunc func(http.ResponseWriter, *http.Request) error

type ApiMiddleware func(http.Handler) ApiHandleFunc

func (a *ApiMux) handle(h ApiHandleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		apiErr, ok := err.(*ApiError)
		if !ok {
			a.logger.Error("internal server error",
				slog.String("path", r.URL.Path), slog.String("err", err.Error()))
			apiErr = NewApiError("internal server error", http.StatusInternalServerError)
		}

		if err := WriteJsonResponseWithStatusCode(w, apiErr, apiErr.Code); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func (a *ApiMux) Get(path string, h ApiHandleFunc) {
	a.Router.Get(path, a.handle(h))
}

func (a *ApiMux) Post(path string, h ApiHandleFunc) {
	a.Router.Post(path, a.handle(h))
}

func (a *ApiMux) Put(path string, h ApiHandleFunc) {
	a.Router.Put(path, a.handle(h))
}

func (a *ApiMux) Delete(path string, h ApiHandleFunc) {
	a.Router.Delete(path, a.handle(h))
}

func (a *ApiMux) Route(path string, f func(r *ApiMux)) {
	a.Router.Route(path, func(r chi.Router) {
		f(&ApiMux{Router: r, logger: a.logger})
	})
}

func (a *ApiMux) Use(middleware ApiMiddleware) {
	a.Router.Use(func(h http.Handler) http.Handler {
		return a.handle(middleware(h))
	})
}

func (a *ApiMux) With(middleware ApiMiddleware) *ApiMux {
	ch := a.Router.With(func(h http.Handler) http.Handler {
		return a.handle(middleware(h))
	})
	return &ApiMux{Router: ch, logger: a.logger}
}
