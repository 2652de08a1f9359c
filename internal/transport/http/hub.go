package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"quantbot/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 把每个交易周期的结果推送给已连接的 WebSocket 客户端。
// 事件入队是非阻塞的，慢客户端不会拖慢交易循环。
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	events  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan []byte, 64),
	}
}

// Run 消费事件队列并分发给所有客户端，直到 ctx 取消。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.events:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					_ = conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast 实现 trader.Broadcaster。队列满时丢弃事件而不是阻塞。
func (h *Hub) Broadcast(event any) {
	payload := marshalEvent(event)
	if payload == nil {
		return
	}
	select {
	case h.events <- payload:
	default:
		logger.Warnf("[ws] 事件队列已满，丢弃一条消息")
	}
}

// ClientCount 返回当前连接数，仅用于状态接口与测试。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] 升级失败 ip=%s err=%v", c.ClientIP(), err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	logger.Infof("[ws] 客户端接入 ip=%s", c.ClientIP())

	// 读循环只用于感知断连，消息内容忽略。
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

func marshalEvent(event any) []byte {
	raw, err := json.Marshal(event)
	if err != nil {
		logger.Warnf("[ws] 事件序列化失败: %v", err)
		return nil
	}
	return raw
}
