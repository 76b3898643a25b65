package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/debugd/internal/debug/adapters"
)

// registerAdapterRoutes exposes adapter discovery over plain HTTP so
// tooling can query availability without opening a WebSocket.
func registerAdapterRoutes(router *gin.Engine, registry *adapters.Registry) {
	group := router.Group("/api/v1/debug")

	group.GET("/adapters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"languages": registry.SupportedLanguages(),
		})
	})

	group.GET("/adapters/:language/detect", func(c *gin.Context) {
		language := c.Param("language")
		if _, ok := registry.Get(language); !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "unsupported language: " + language,
			})
			return
		}
		result := registry.Detect(c.Request.Context(), language)
		c.JSON(http.StatusOK, gin.H{
			"language": language,
			"result":   result,
		})
	})
}
