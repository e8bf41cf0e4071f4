package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket socket.
// The identity is taken from the userId, username and deviceName query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info := types.Participant{
		UserID:     q.Get("userId"),
		Username:   q.Get("username"),
		DeviceName: q.Get("deviceName"),
	}
	if info.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := h.register(info)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.out.run(func(env socket.Envelope) {
			if err := conn.WriteJSON(env); err != nil {
				h.log.Debug("write failed", zap.String("socketId", p.info.SocketID), zap.Error(err))
			}
		})
	}()

	for {
		var env socket.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		h.handle(p, env)
	}

	h.unregister(p)
	<-writerDone
	conn.Close()
}

// Handler returns an http.Handler serving the hub at /ws
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
