package http

import (
	"net/http"
	"time"

	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessCleanupID        = "cleanup_id"
	sessCleanupCommunity = "cleanup_community"
	sessCleanupDeadline  = "cleanup_deadline"
)

type SetMasterRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

type ConfirmRequest struct {
	ConfirmationID string `json:"confirmation_id" binding:"required"`
}

type CleanupPendingResponse struct {
	ConfirmationID string             `json:"confirmation_id"`
	CommunityID    domain.CommunityID `json:"community_id"`
	LiveRoomCount  int                `json:"live_room_count"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

type commandHandlers struct {
	svc            Service
	confirmTimeout time.Duration
	now            func() time.Time
}

func community(c *gin.Context) domain.CommunityID {
	return domain.CommunityID(c.Param("community"))
}

func (h *commandHandlers) status(c *gin.Context) {
	st, err := h.svc.GetStatus(c.Request.Context(), community(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *commandHandlers) setMaster(c *gin.Context) {
	var req SetMasterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room_id"})
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.SetMasterRoom(ctx, community(c), domain.RoomID(req.RoomID)); err != nil {
		abortWithError(c, err)
		return
	}
	h.status(c)
}

func (h *commandHandlers) disable(c *gin.Context) {
	if err := h.svc.Disable(c.Request.Context(), community(c)); err != nil {
		abortWithError(c, err)
		return
	}
	h.status(c)
}

func (h *commandHandlers) sweep(c *gin.Context) {
	res, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// startCleanup records a pending bulk cleanup in the caller's session. It
// runs only if confirmed before the deadline.
func (h *commandHandlers) startCleanup(c *gin.Context) {
	cid := community(c)
	st, err := h.svc.GetStatus(c.Request.Context(), cid)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := CleanupPendingResponse{
		ConfirmationID: uuid.NewString(),
		CommunityID:    cid,
		LiveRoomCount:  st.LiveRoomCount,
		ExpiresAt:      h.now().Add(h.confirmTimeout).UTC(),
	}
	sess := sessions.Default(c)
	sess.Set(sessCleanupID, resp.ConfirmationID)
	sess.Set(sessCleanupCommunity, string(cid))
	sess.Set(sessCleanupDeadline, resp.ExpiresAt.UnixMilli())
	if err := sess.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	log.Info().
		Str("module", "adapters.http").
		Str("community", string(cid)).
		Str("client", c.ClientIP()).
		Int("rooms", st.LiveRoomCount).
		Msg("bulk cleanup awaiting confirmation")
	c.JSON(http.StatusAccepted, resp)
}

func (h *commandHandlers) confirmCleanup(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing confirmation_id"})
		return
	}
	cid := community(c)
	sess := sessions.Default(c)
	id, deadline, ok := pendingCleanup(sess, cid)
	if !ok || id != req.ConfirmationID {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending cleanup to confirm"})
		return
	}
	// The confirmation is single use, expired or not.
	clearCleanup(sess)
	if err := sess.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	if h.now().After(deadline) {
		c.JSON(http.StatusGone, gin.H{"error": "confirmation expired"})
		return
	}

	res, err := h.svc.BulkCleanup(c.Request.Context(), cid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	log.Info().
		Str("module", "adapters.http").
		Str("community", string(cid)).
		Str("client", c.ClientIP()).
		Int("deleted", res.Deleted).
		Msg("bulk cleanup confirmed")
	c.JSON(http.StatusOK, res)
}

func (h *commandHandlers) cancelCleanup(c *gin.Context) {
	sess := sessions.Default(c)
	if _, _, ok := pendingCleanup(sess, community(c)); !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending cleanup to cancel"})
		return
	}
	clearCleanup(sess)
	if err := sess.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func pendingCleanup(sess sessions.Session, cid domain.CommunityID) (string, time.Time, bool) {
	id, _ := sess.Get(sessCleanupID).(string)
	pc, _ := sess.Get(sessCleanupCommunity).(string)
	ms, okDeadline := sess.Get(sessCleanupDeadline).(int64)
	if id == "" || !okDeadline || domain.CommunityID(pc) != cid {
		return "", time.Time{}, false
	}
	return id, time.UnixMilli(ms), true
}

func clearCleanup(sess sessions.Session) {
	sess.Delete(sessCleanupID)
	sess.Delete(sessCleanupCommunity)
	sess.Delete(sessCleanupDeadline)
}
