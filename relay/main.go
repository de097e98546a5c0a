// The relay hosts the shared real-time store for tunnel clients: one
// in-process hierarchical keyspace fanned out over websockets. All state
// is in memory; killing the relay erases every room, which is the product
// guarantee anyway.
package main

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tunnelchat/tunnelchat/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Anonymous product, no origin allowlist.
	CheckOrigin: func(*http.Request) bool { return true },
}

func main() {
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("RELAY_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	mem := store.NewMemory()

	if os.Getenv("RELAY_DEBUG") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(mem, log)

	log.WithField("addr", addr).Info("relay listening")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("relay stopped")
	}
}

func newRouter(mem *store.Memory, log *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		cl := newClient(conn, mem, log)
		go cl.writePump()
		cl.readPump()
	})
	return router
}
