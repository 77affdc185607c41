package routes

import (
	"context"
	"fmt"
	"net/http"

	"Evergreen.telemetry/internal/controller"
	"Evergreen.telemetry/internal/middleware"
	"github.com/gorilla/mux"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Readings *controller.ReadingController
	Basins   *controller.BasinController
	Users    *controller.UserController
	Identity *middleware.Identity
	Metrics  http.Handler
	// Health reports whether the record store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
}

// RegisterRoutes registers all application routes.
func RegisterRoutes(router *mux.Router, h Handlers) {
	// Devices post without a dashboard identity.
	router.HandleFunc("/readings", h.Readings.HandleIngest).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(h.Identity.Middleware)

	api.HandleFunc("/readings", h.Readings.HandleQuery).Methods(http.MethodGet)
	api.HandleFunc("/readings/latest", h.Readings.HandleLatest).Methods(http.MethodGet)

	api.HandleFunc("/basins", h.Basins.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/basins/{id}", h.Basins.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/basins/{id}/series", h.Basins.HandleSeries).Methods(http.MethodGet)

	api.HandleFunc("/me", h.Users.HandleMe).Methods(http.MethodGet)
	api.HandleFunc("/users", h.Users.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/users", h.Users.HandleCreate).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", h.Users.HandleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/basins", h.Users.HandleSetBasins).Methods(http.MethodPut)

	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if h.Health != nil {
			if err := h.Health(r.Context()); err != nil {
				http.Error(w, "record store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}).Methods(http.MethodGet)
}
