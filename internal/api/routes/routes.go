package routes

import (
	"context"
	"net/http"
	"time"

	"relay-service/internal/api/middleware"
	"relay-service/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Router struct {
	engine   *gin.Engine
	hub      *relay.Hub
	bridge   *relay.Bridge
	presence *relay.Presence
	redis    *redis.Client
}

func NewRouter(
	hub *relay.Hub,
	bridge *relay.Bridge,
	presence *relay.Presence,
	redisClient *redis.Client,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestLogger())

	return &Router{
		engine:   engine,
		hub:      hub,
		bridge:   bridge,
		presence: presence,
		redis:    redisClient,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/ws", r.serveWS)
	r.engine.GET("/healthz", r.health)

	api := r.engine.Group("/api/v1")
	api.GET("/stats", r.stats)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) serveWS(c *gin.Context) {
	relay.ServeWS(r.hub, c.Writer, c.Request)
}

// health reports process liveness and backbone reachability. A Redis outage
// degrades cross-instance fan-out but does not kill the relay, so it is
// reported rather than fatal.
func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	backbone := "ok"
	if err := r.redis.Ping(ctx).Err(); err != nil {
		status = http.StatusServiceUnavailable
		backbone = err.Error()
	}

	c.JSON(status, gin.H{
		"status":   "up",
		"backbone": backbone,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// stats returns a point-in-time snapshot of the relay's shared state.
func (r *Router) stats(c *gin.Context) {
	hubStats := r.hub.Stats()
	records, online := r.presence.Counts()

	c.JSON(http.StatusOK, gin.H{
		"connections":           hubStats.Connections,
		"rooms":                 hubStats.Rooms,
		"backboneSubscriptions": r.bridge.SubscriptionCount(),
		"presenceRecords":       records,
		"onlineUsers":           online,
	})
}
