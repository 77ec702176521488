package liveview

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ImageSource publishes every image inserted into the host sink.
type ImageSource interface {
	Subscribe() (<-chan domain.Image, func())
}

type Options struct {
	MaxFPS         float64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxClients     int
	AllowedOrigins []string
}

// FrameHeader precedes each binary pixel message.
type FrameHeader struct {
	Type          string          `json:"type"`
	Channel       int             `json:"channel"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	BytesPerPixel int             `json:"bytes_per_pixel"`
	FrameCount    int             `json:"frame_count"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Hub streams sink images to websocket viewers at a capped rate.
type Hub struct {
	source   ImageSource
	metrics  ports.AcquisitionMetrics
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int

	logger *zap.SugaredLogger
}

var _ ports.LiveViewHandler = (*Hub)(nil)

func NewHub(source ImageSource, metrics ports.AcquisitionMetrics, opts Options, logger *zap.SugaredLogger) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	h := &Hub{
		source:  source,
		metrics: metrics,
		opts:    opts,
		logger:  logger.Named("liveview"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opts.MaxClients > 0 && h.clients >= h.opts.MaxClients {
		return false
	}
	h.clients++
	h.recordClients()
	return true
}

func (h *Hub) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients--
	h.recordClients()
}

func (h *Hub) recordClients() {
	if h.metrics != nil {
		h.metrics.RecordLiveViewClients(h.clients)
	}
}

// HandleWebSocket serves GET /ws/live. The optional channel query parameter
// restricts the feed to one sink channel.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	channel := -1
	if raw := c.Query("channel"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n >= domain.MaxStreams {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
			return
		}
		channel = n
	}

	images, cancel := h.source.Subscribe()
	defer cancel()

	if !h.acquire() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many live view clients"})
		return
	}
	defer h.release()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var limiter *rate.Limiter
	if h.opts.MaxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.MaxFPS), 1)
	}

	h.logger.Infow("viewer connected", "remote", c.Request.RemoteAddr, "channel", channel)

	// Viewers never send data; the reader only notices closes and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case img, ok := <-images:
			if !ok {
				return
			}
			if channel >= 0 && img.Channel != channel {
				continue
			}
			if limiter != nil && !limiter.Allow() {
				continue
			}
			if err := h.writeImage(conn, img); err != nil {
				h.logger.Infow("error sending frame", "remote", c.Request.RemoteAddr, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			h.logger.Infow("viewer disconnected", "remote", c.Request.RemoteAddr)
			return
		}
	}
}

func (h *Hub) writeImage(conn *websocket.Conn, img domain.Image) error {
	header := FrameHeader{
		Type:          "frame",
		Channel:       img.Channel,
		Width:         img.Width,
		Height:        img.Height,
		BytesPerPixel: img.BytesPerPixel,
		FrameCount:    img.FrameCount,
	}
	if json.Valid(img.Metadata) {
		header.Metadata = img.Metadata
	}

	conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	if err := conn.WriteJSON(header); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, img.Pixels)
}
