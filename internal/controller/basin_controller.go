package controller

import (
	"fmt"
	"net/http"
	"strconv"

	"Evergreen.telemetry/internal/middleware"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/service"
	"Evergreen.telemetry/internal/utils"
	"github.com/gorilla/mux"
)

type BasinController struct {
	service *service.DataService
}

func NewBasinController(service *service.DataService) *BasinController {
	return &BasinController{service: service}
}

func (c *BasinController) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
		return
	}
	basins, err := c.service.Overview(r.Context(), user)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, basins)
}

func (c *BasinController) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
		return
	}
	basin, err := c.service.Basin(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, basin)
}

// HandleSeries returns one channel of a basin as chart points.
func (c *BasinController) HandleSeries(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
		return
	}

	query := r.URL.Query()
	req := models.SeriesRequest{BasinID: mux.Vars(r)["id"], Channel: query.Get("channel")}
	if req.Channel == "" {
		apiErr := models.NewAPIError(models.ErrorCodeMissingParameter, "channel is required", nil, http.StatusBadRequest)
		utils.RespondWithError(w, apiErr)
		return
	}
	if raw := query.Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondWithServiceError(w, fmt.Errorf("%w: hours must be an integer", models.ErrInvalidRequest))
			return
		}
		req.Hours = hours
	}

	points, err := c.service.Series(r.Context(), user, req)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, points)
}
