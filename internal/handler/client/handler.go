package client

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/service/pipeline"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/httputil"
	"github.com/jwalitptl/realty-crm/pkg/validator"
)

type Handler struct {
	service   *pipeline.Service
	validator validator.Validator
}

func NewHandler(service *pipeline.Service, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	clients := r.Group("/clients")
	{
		clients.GET("/:id", h.GetClient)
		clients.POST("/:id/stage", h.TransitionStage)
		clients.GET("/:id/stage/history", h.GetStageHistory)
	}
}

func (h *Handler) GetClient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid client ID", err))
		return
	}

	client, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, client)
}

func (h *Handler) TransitionStage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid client ID", err))
		return
	}

	var req model.StageTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid request body", err))
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation(err.Error(), err))
		return
	}

	client, err := h.service.Transition(c.Request.Context(), id, actorID(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, client)
}

func (h *Handler) GetStageHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid client ID", err))
		return
	}

	history, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func actorID(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}
