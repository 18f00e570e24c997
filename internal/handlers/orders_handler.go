package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/brystrange/reserveflow/internal/idempotency"
	"github.com/brystrange/reserveflow/internal/orders"
	"github.com/brystrange/reserveflow/internal/validation"
	"github.com/gin-gonic/gin"
)

// maxProofBytes bounds payment-proof uploads (images or a PDF).
const maxProofBytes = 8 << 20

func registerOrderRoutes(r *gin.Engine, d *deps) {
	r.POST("/orders", func(c *gin.Context) { createOrder(c, d) })

	r.GET("/orders", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		list, err := d.manager.Store().ListForUser(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		o, err := d.manager.Store().Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if o == nil || (o.UserID != uid && c.GetHeader("X-User-Role") != "admin") {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.POST("/orders/:id/payment-proof", func(c *gin.Context) { submitProof(c, d) })
}

// createOrder runs the idempotency-guarded order creation flow. A duplicate
// Idempotency-Key replays the stored response instead of re-executing.
func createOrder(c *gin.Context, d *deps) {
	ctx := c.Request.Context()

	uid := userID(c)
	if uid == "" {
		return
	}

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, d.validate); err != nil {
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	created, err := d.idempotency.CreateIfNotExists(ctx, idempKey, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if !created {
		replayIdempotent(c, d, idempKey)
		return
	}

	o, err := d.manager.CreateOrder(ctx, uid, req.ReservationIDs, orders.ShippingDetails{
		RecipientName: req.Shipping.RecipientName,
		Phone:         req.Shipping.Phone,
		AddressLine:   req.Shipping.AddressLine,
		City:          req.Shipping.City,
		Province:      req.Shipping.Province,
		PostalCode:    req.Shipping.PostalCode,
		Notes:         req.Shipping.Notes,
	})
	if err != nil {
		_ = d.idempotency.MarkFailed(ctx, idempKey, fmt.Sprintf("create_order_failed: %v", err))
		if errors.Is(err, orders.ErrReservationUnavailable) {
			c.JSON(http.StatusConflict, gin.H{"error": "reservation_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_order_failed", "detail": err.Error()})
		return
	}

	responseBody, _ := json.Marshal(gin.H{"order_id": o.OrderID, "order_number": o.OrderNumber, "status": o.PaymentStatus})
	_ = d.idempotency.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated)

	c.Header("Location", fmt.Sprintf("/orders/%s", o.OrderID))
	c.JSON(http.StatusCreated, o)
}

// replayIdempotent resolves a duplicate Idempotency-Key from the stored record.
func replayIdempotent(c *gin.Context, d *deps, idempKey string) {
	rec, err := d.idempotency.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "note": rec.Note})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

// submitProof accepts a multipart payment-proof upload for the caller's order.
func submitProof(c *gin.Context, d *deps) {
	ctx := c.Request.Context()

	uid := userID(c)
	if uid == "" {
		return
	}
	orderID := c.Param("id")

	o, err := d.manager.Store().Get(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
		return
	}
	if o == nil || o.UserID != uid {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}

	file, header, err := c.Request.FormFile("proof")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_proof_file", "msg": err.Error()})
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxProofBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read_proof_failed", "msg": err.Error()})
		return
	}
	if len(body) > maxProofBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "proof_too_large"})
		return
	}
	contentType := header.Header.Get("Content-Type")

	attempt, err := d.manager.SubmitPaymentProof(ctx, orderID, body, contentType)
	switch {
	case errors.Is(err, orders.ErrAttemptLimitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "attempt_limit_exceeded"})
	case errors.Is(err, orders.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "order_already_resolved"})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_proof_failed", "detail": err.Error()})
	default:
		c.JSON(http.StatusCreated, attempt)
	}
}
