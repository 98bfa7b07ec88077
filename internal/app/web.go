package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteWait = time.Second

// attitudeHub keeps the latest attitude and fans it out to websocket clients.
type attitudeHub struct {
	mu      sync.Mutex
	last    []byte
	clients map[*websocket.Conn]struct{}
	log     *logrus.Entry
}

func newAttitudeHub(log *logrus.Entry) *attitudeHub {
	return &attitudeHub{clients: make(map[*websocket.Conn]struct{}), log: log}
}

// update stores payload as the latest attitude and pushes it to every client.
func (h *attitudeHub) update(payload []byte) {
	var a Attitude
	if err := json.Unmarshal(payload, &a); err != nil {
		h.log.Warnf("attitude payload unmarshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = append(h.last[:0], payload...)
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debugf("websocket write: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *attitudeHub) latest() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil, false
	}
	return append([]byte(nil), h.last...), true
}

func (h *attitudeHub) handleAttitude(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (h *attitudeHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	if h.last != nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		conn.WriteMessage(websocket.TextMessage, h.last)
	}
	h.mu.Unlock()

	// Clients never send; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *attitudeHub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attitude", h.handleAttitude)
	mux.HandleFunc("/ws", h.handleWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// RunWeb subscribes to the attitude topic and serves it over HTTP and
// websocket until ctx is cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	log := logging.Component("web")
	hub := newAttitudeHub(log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-web")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Infof("connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		hub.update(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Infof("subscribed to MQTT topic %s", cfg.TopicAttitude)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: hub.routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
