package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes.
func SetupRoutes(handlers *Handlers, proxy *Proxy) *gin.Engine {
	router := gin.Default()

	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		// Pass-through to the synthesis backend
		tts := api.Group("/tts")
		{
			tts.GET("/models", proxy.Models)
			tts.POST("/synthesize", proxy.Synthesize)
			tts.GET("/status/:id", proxy.Status)
		}

		api.POST("/batches", handlers.SubmitBatch)

		current := api.Group("/batch")
		{
			current.GET("", handlers.GetBatch)
			current.DELETE("", handlers.ClearBatch)
			current.POST("/tasks/:index/retry", handlers.RetryTask)
			current.GET("/tasks/:index/audio", handlers.TaskAudio)
			current.GET("/archive", handlers.Archive)
			current.POST("/archive/upload", handlers.UploadArchive)
			current.GET("/events", handlers.Events)
			current.GET("/ws", handlers.EventsWebSocket)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
