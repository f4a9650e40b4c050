package sandbox

import (
	"math/rand"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/checkout-orchestrator/internal/config"
)

// Chaos injects service unavailable responses with a fixed probability.
type Chaos struct {
	config config.ChaosConfig

	mu   sync.Mutex
	rand *rand.Rand
}

// NewChaos creates a Chaos; a fixed seed makes the fault sequence reproducible.
func NewChaos(cfg config.ChaosConfig, seed int64) *Chaos {
	return &Chaos{config: cfg, rand: rand.New(rand.NewSource(seed))}
}

// ShouldInjectFault draws whether the next request fails.
func (c *Chaos) ShouldInjectFault() bool {
	if c == nil || !c.config.Enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rand.Float64() < c.config.FaultProbability
}

// Middleware aborts a share of requests with 503 and no body.
func (c *Chaos) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.ShouldInjectFault() {
			ctx.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		ctx.Next()
	}
}
