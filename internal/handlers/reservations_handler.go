package handlers

import (
	"errors"
	"net/http"

	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/validation"
	"github.com/gin-gonic/gin"
)

func registerReservationRoutes(r *gin.Engine, d *deps) {
	r.GET("/reservations", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		list, err := d.engine.Store().ListActiveByUser(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reservations": list})
	})

	r.POST("/reservations", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		var req validation.ReserveRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		res, err := d.engine.Reserve(c.Request.Context(), req.ProductID, uid, req.Quantity)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
		case errors.Is(err, catalog.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reserve_failed", "detail": err.Error()})
		default:
			c.JSON(http.StatusCreated, res)
		}
	})

	r.DELETE("/reservations/:id", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		id := c.Param("id")
		res, err := d.engine.Store().Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_failed", "detail": err.Error()})
			return
		}
		if res != nil && res.UserID != uid {
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation_not_found"})
			return
		}
		if err := d.engine.Cancel(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	})

	// Freeze/unfreeze pause every active countdown for the caller; the client
	// calls these around checkout so the timer does not lapse mid-payment.
	r.POST("/reservations/freeze", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		if err := d.engine.Freeze(c.Request.Context(), uid); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "freeze_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "frozen"})
	})

	r.POST("/reservations/unfreeze", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		if err := d.engine.Unfreeze(c.Request.Context(), uid); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unfreeze_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "running"})
	})
}
