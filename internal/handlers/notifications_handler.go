package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func registerNotificationRoutes(r *gin.Engine, d *deps) {
	r.GET("/notifications", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		list, err := d.notifications.ListForUser(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": list})
	})

	r.POST("/notifications/:id/read", func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		if err := d.notifications.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_read_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "read"})
	})
}
