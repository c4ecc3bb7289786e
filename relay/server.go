package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the relay's gin.Engine, grounded on the teacher's
// node.InitRouter (gin.New, trusted-proxy disabled, recovery middleware,
// CORS) plus node/api/status.go's liveness endpoint, narrowed to the one
// route a rendezvous relay needs: a websocket join point keyed by a room
// id the two peers agreed on out of band (e.g. an invitation id).
func NewRouter(hub *Hub, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery())
	r.Use(cors.New(*DefaultCORSConfig(allowedOrigins)))

	r.GET("/v1/status", statusHandler)
	r.GET("/v1/relay/:room", relayHandler(hub))

	return r
}

func statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func relayHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Err(err).Msg("relay: failed to upgrade connection")
			return
		}
		hub.Join(room, ws)
	}
}

// Server wraps the relay router in a standard http.Server, the same
// Run-blocks/Close-shuts-down lifecycle node.MetaLockerServer exposes.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, hub *Hub, allowedOrigins []string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(hub, allowedOrigins).Handler(),
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
}

// Run blocks serving HTTP until Close is called.
func (s *Server) Run() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("relay: starting server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// Close shuts down the HTTP server.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
