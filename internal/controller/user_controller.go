package controller

import (
	"encoding/json"
	"fmt"
	"net/http"

	"Evergreen.telemetry/internal/middleware"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/service"
	"Evergreen.telemetry/internal/utils"
	"github.com/gorilla/mux"
)

type UserController struct {
	service *service.UserService
}

func NewUserController(service *service.UserService) *UserController {
	return &UserController{service: service}
}

type allowedBasinsRequest struct {
	AllowedBasinIDs []string `json:"allowedBasinIds"`
}

func caller(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
	}
	return u, ok
}

// HandleMe returns the calling user.
func (c *UserController) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, u)
}

func (c *UserController) HandleList(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	users, err := c.service.List(u)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, users)
}

func (c *UserController) HandleCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var req models.User
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithServiceError(w, fmt.Errorf("%w: invalid user payload", models.ErrInvalidRequest))
		return
	}
	req.ID = ""

	created, err := c.service.Create(u, req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, created)
}

func (c *UserController) HandleDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	if err := c.service.Delete(u, mux.Vars(r)["id"]); err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetBasins replaces the allow-list of a user.
func (c *UserController) HandleSetBasins(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var req allowedBasinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithServiceError(w, fmt.Errorf("%w: invalid allow-list payload", models.ErrInvalidRequest))
		return
	}

	updated, err := c.service.SetAllowedBasins(u, mux.Vars(r)["id"], req.AllowedBasinIDs)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, updated)
}
