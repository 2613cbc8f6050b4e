package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router returns a gin.Engine exposing exactly GET /metrics and GET /health;
// every other path 404s. Not a general HTTP framework setup — the concrete
// transport is out of scope, this is the minimal binding the spec's external
// interfaces section asks for.
func (r *Registry) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(handler))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok\n")
	})
	router.NoRoute(func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	return router
}
