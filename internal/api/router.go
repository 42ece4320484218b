package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pagechat/pagechat/pkg/docstore"
)

// ApiMux wraps chi.Router so handlers can return errors instead of writing
// failure responses by hand.
type ApiMux struct {
	chi.Router
	log *slog.Logger
}

func NewApiMux(log *slog.Logger) *ApiMux {
	return &ApiMux{
		Router: chi.NewRouter(),
		log:    log,
	}
}

type ApiHandleFunc func(http.ResponseWriter, *http.Request) error

func (a *ApiMux) serve(h ApiHandleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		apiErr, ok := err.(*ApiError)
		if !ok {
			switch {
			// Retryable storage failures surface unchanged as 503.
			case errors.Is(err, docstore.ErrTimeout), errors.Is(err, docstore.ErrUnavailable):
				apiErr = NewApiError(err.Error(), http.StatusServiceUnavailable)
			default:
				a.log.Error("internal server error", "method", r.Method, "path", r.URL.Path, "err", err)
				apiErr = NewApiError("internal server error", http.StatusInternalServerError)
			}
		}

		if err := WriteJsonResponse(w, apiErr, apiErr.Code); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

type ApiMiddleware func(http.Handler) ApiHandleFunc

func (a *ApiMux) Get(path string, h ApiHandleFunc) {
	a.Router.Get(path, a.serve(h))
}

func (a *ApiMux) Post(path string, h ApiHandleFunc) {
	a.Router.Post(path, a.serve(h))
}

func (a *ApiMux) Put(path string, h ApiHandleFunc) {
	a.Router.Put(path, a.serve(h))
}

func (a *ApiMux) Delete(path string, h ApiHandleFunc) {
	a.Router.Delete(path, a.serve(h))
}

func (a *ApiMux) Route(path string, f func(r *ApiMux)) {
	a.Router.Route(path, func(r chi.Router) {
		f(&ApiMux{Router: r, log: a.log})
	})
}

func (a *ApiMux) Use(middleware ApiMiddleware) {
	a.Router.Use(func(h http.Handler) http.Handler {
		return a.serve(middleware(h))
	})
}

func (a *ApiMux) With(middleware ApiMiddleware) *ApiMux {
	ch := a.Router.With(func(h http.Handler) http.Handler {
		return a.serve(middleware(h))
	})
	return &ApiMux{Router: ch, log: a.log}
}
