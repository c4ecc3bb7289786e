package relay

import (
	"time"

	"github.com/gin-contrib/cors"
)

// DefaultCORSConfig mirrors the teacher's node.DefaultCORSConfig, narrowed
// to the methods/headers a websocket-rendezvous-plus-status relay needs.
func DefaultCORSConfig(allowOrigins []string) *cors.Config {
	return &cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}
}
