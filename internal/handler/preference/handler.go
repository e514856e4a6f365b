package preference

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/repository"
	"github.com/jwalitptl/realty-crm/internal/service/notification"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/httputil"
)

type Handler struct {
	repo          repository.PreferenceRepository
	notifications *notification.Service
}

func NewHandler(repo repository.PreferenceRepository, notifications *notification.Service) *Handler {
	return &Handler{repo: repo, notifications: notifications}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prefs := r.Group("/users/:id/notification-preferences")
	{
		prefs.GET("/:category", h.GetPreference)
		prefs.PUT("/:category", h.PutPreference)
	}
}

func (h *Handler) GetPreference(c *gin.Context) {
	userID, category, ok := h.params(c)
	if !ok {
		return
	}

	pref, err := h.repo.Get(c.Request.Context(), userID, category)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NotFound("notification preference", err))
		return
	}
	httputil.RespondWithSuccess(c, pref)
}

func (h *Handler) PutPreference(c *gin.Context) {
	userID, category, ok := h.params(c)
	if !ok {
		return
	}

	var pref model.NotificationPreference
	if err := c.ShouldBindJSON(&pref); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid request body", err))
		return
	}
	pref.UserID = userID
	pref.Category = category
	pref.UpdatedAt = time.Now()

	if pref.QuietHours.Enabled {
		if _, err := pref.QuietHours.Contains(time.Now()); err != nil {
			httputil.RespondWithError(c, apperrors.Validation(err.Error(), err))
			return
		}
	}

	if err := h.repo.Upsert(c.Request.Context(), &pref); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	// The dispatcher caches preferences; a stale entry would route the next
	// escalation wrong.
	h.notifications.InvalidatePreferences(userID, category)

	httputil.RespondWithSuccess(c, &pref)
}

func (h *Handler) params(c *gin.Context) (uuid.UUID, model.NotificationCategory, bool) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid user ID", err))
		return uuid.Nil, "", false
	}
	category := model.NotificationCategory(c.Param("category"))
	switch category {
	case model.CategoryDeadline, model.CategoryAppointmentReminder:
	default:
		httputil.RespondWithError(c, apperrors.Validation("unknown notification category", nil))
		return uuid.Nil, "", false
	}
	return userID, category, true
}
