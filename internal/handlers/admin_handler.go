package handlers

import (
	"errors"
	"net/http"

	"github.com/brystrange/reserveflow/internal/orders"
	"github.com/brystrange/reserveflow/internal/settings"
	"github.com/brystrange/reserveflow/internal/validation"
	"github.com/gin-gonic/gin"
)

func registerAdminRoutes(r *gin.Engine, d *deps) {
	admin := r.Group("/admin", requireAdmin)

	admin.POST("/orders/:id/verify", func(c *gin.Context) {
		err := d.manager.VerifyPayment(c.Request.Context(), c.Param("id"))
		writeOrderActionResult(c, err, "verified")
	})

	admin.POST("/orders/:id/decline", func(c *gin.Context) {
		var req validation.DeclineRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.manager.DeclinePayment(c.Request.Context(), c.Param("id"), req.Note)
		writeOrderActionResult(c, err, "declined")
	})

	admin.POST("/orders/:id/cancel", func(c *gin.Context) {
		var req validation.CancelRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.manager.AdminCancel(c.Request.Context(), c.Param("id"), req.Reason)
		writeOrderActionResult(c, err, "cancelled")
	})

	admin.POST("/orders/:id/tracking", func(c *gin.Context) {
		var req validation.TrackingRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.manager.Store().SetTracking(c.Request.Context(), c.Param("id"), req.TrackingNumber, req.CourierName, orders.OrderShipped)
		if errors.Is(err, orders.ErrStatusMismatch) {
			c.JSON(http.StatusConflict, gin.H{"error": "order_not_verified"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "set_tracking_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "shipped"})
	})

	admin.GET("/settings", func(c *gin.Context) {
		ctx := c.Request.Context()
		ts, err := d.settings.GetTime(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_settings_failed", "detail": err.Error()})
			return
		}
		ps, err := d.settings.GetPayment(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_settings_failed", "detail": err.Error()})
			return
		}
		is, err := d.settings.GetInvoice(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_settings_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"time": ts, "payment": ps, "invoice": is})
	})

	admin.PUT("/settings/time", func(c *gin.Context) {
		var req validation.TimeSettingsRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.settings.UpdateTime(c.Request.Context(), settings.TimeSettings{
			ReservationExpiryMinutes: req.ReservationExpiryMinutes,
			PaymentWaitHours:         req.PaymentWaitHours,
			AutoCancelDeclined:       req.AutoCancelDeclined,
		})
		writeSettingsResult(c, err)
	})

	admin.PUT("/settings/payment", func(c *gin.Context) {
		var req validation.PaymentSettingsRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.settings.UpdatePayment(c.Request.Context(), settings.PaymentSettings{
			BankName:      req.BankName,
			AccountName:   req.AccountName,
			AccountNumber: req.AccountNumber,
			Instructions:  req.Instructions,
		})
		writeSettingsResult(c, err)
	})

	admin.PUT("/settings/invoice", func(c *gin.Context) {
		var req validation.InvoiceSettingsRequest
		if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
			return
		}
		err := d.settings.UpdateInvoice(c.Request.Context(), settings.InvoiceSettings{
			BusinessName: req.BusinessName,
			LogoURL:      req.LogoURL,
			FooterNote:   req.FooterNote,
		})
		writeSettingsResult(c, err)
	})
}

func writeOrderActionResult(c *gin.Context, err error, status string) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, orders.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "order_already_resolved"})
	case errors.Is(err, orders.ErrNoProofUnderReview):
		c.JSON(http.StatusConflict, gin.H{"error": "no_proof_under_review"})
	case errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "order_state_changed"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_action_failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

// writeSettingsResult maps the offline pre-check to 503 so the admin UI can
// tell connectivity problems from bad input.
func writeSettingsResult(c *gin.Context, err error) {
	switch {
	case errors.Is(err, settings.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settings_store_unreachable"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_settings_failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}
