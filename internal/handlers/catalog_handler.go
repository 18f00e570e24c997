package handlers

import (
	"net/http"

	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/gin-gonic/gin"
)

func registerCatalogRoutes(r *gin.Engine, d *deps) {
	r.GET("/products", func(c *gin.Context) {
		list, err := d.catalog.ListProducts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": list})
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := d.catalog.GetProduct(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	// Customer listings only show published collections; draft and scheduled
	// ones stay admin-side.
	r.GET("/collections", func(c *gin.Context) {
		list, err := d.catalog.ListCollections(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		published := make([]catalog.Collection, 0, len(list))
		for _, col := range list {
			if col.Status == catalog.CollectionPublished {
				published = append(published, col)
			}
		}
		c.JSON(http.StatusOK, gin.H{"collections": published})
	})

	r.GET("/collections/:id/products", func(c *gin.Context) {
		list, err := d.catalog.ListByCollection(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": list})
	})
}
