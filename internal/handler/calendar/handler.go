package calendar

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	gridpkg "github.com/jwalitptl/realty-crm/internal/calendar"
	"github.com/jwalitptl/realty-crm/internal/service/calendar"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/httputil"
)

type Handler struct {
	service *calendar.Service
}

func NewHandler(service *calendar.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/calendar", h.GetCalendar)
}

// GetCalendar renders a month or week view anchored at the given date,
// defaulting to the current week.
func (h *Handler) GetCalendar(c *gin.Context) {
	agentID, err := uuid.Parse(c.Query("agent_id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid agent ID", err))
		return
	}

	view := gridpkg.View(c.DefaultQuery("view", string(gridpkg.ViewWeek)))
	if !view.Valid() {
		httputil.RespondWithError(c, apperrors.Validation("view must be month or week", nil))
		return
	}

	ref := time.Now()
	if date := c.Query("date"); date != "" {
		ref, err = time.Parse("2006-01-02", date)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Validation("date must be YYYY-MM-DD", err))
			return
		}
	}

	result, err := h.service.Render(c.Request.Context(), agentID, ref, view)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
