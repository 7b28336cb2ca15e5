package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ChunkFM/cache"
	"ChunkFM/logger"
	"ChunkFM/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BridgeMessageType 桥接消息类型
type BridgeMessageType string

const (
	// 服务端 -> 平台
	MsgTypeTriggerAt       BridgeMessageType = "trigger_at"       // 在空间坐标触发声音
	MsgTypeTriggerListener BridgeMessageType = "trigger_listener" // 对听者触发声音

	// 平台 -> 服务端
	MsgTypeState BridgeMessageType = "state" // 听者可达性上报
	MsgTypePing  BridgeMessageType = "ping"  // 心跳
	MsgTypePong  BridgeMessageType = "pong"  // 心跳响应
)

// BridgeMessage 桥接消息结构
type BridgeMessage struct {
	Type       BridgeMessageType `json:"type"`
	EventIndex int               `json:"eventIndex,omitempty"`
	EventName  string            `json:"eventName,omitempty"`
	AssetName  string            `json:"assetName,omitempty"`
	Category   string            `json:"category,omitempty"`
	Volume     float64           `json:"volume,omitempty"`
	Pitch      float64           `json:"pitch,omitempty"`
	X          float64           `json:"x,omitempty"`
	Y          float64           `json:"y,omitempty"`
	Z          float64           `json:"z,omitempty"`
	ListenerID string            `json:"listenerId,omitempty"`
	Eligible   *bool             `json:"eligible,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

// bridgeClient 一个已连接的平台端
type bridgeClient struct {
	hub        *BridgeHub
	conn       *websocket.Conn
	send       chan []byte
	listenerID string
	eligible   bool
	closed     bool // hub.mu 保护；置位后 send 已关闭，禁止再写
}

// sessionNotifier 听者状态变化的回调方
// 由播放调度器实现，连接建立后绑定，避免构造顺序上的环
type sessionNotifier interface {
	OnListenerEligible(listenerID string)
	OnListenerGone(listenerID string)
}

// BridgeHub 平台桥接中心，管理全部 websocket 连接
// 同时充当调度器的声音触发原语和听者资格判定
type BridgeHub struct {
	clients    map[string]*bridgeClient // 听者标识 -> 连接
	register   chan *bridgeClient
	unregister chan *bridgeClient

	notifier sessionNotifier

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewBridgeHub 创建桥接中心
func NewBridgeHub() *BridgeHub {
	return &BridgeHub{
		clients:    make(map[string]*bridgeClient),
		register:   make(chan *bridgeClient),
		unregister: make(chan *bridgeClient),
		done:       make(chan struct{}),
	}
}

// BindNotifier 绑定调度器回调
func (h *BridgeHub) BindNotifier(n sessionNotifier) {
	h.notifier = n
}

// Run 启动 Hub 主循环
func (h *BridgeHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *BridgeHub) Stop() {
	h.once.Do(func() {
		close(h.done)
	})
}

func (h *BridgeHub) registerClient(client *bridgeClient) {
	h.mu.Lock()
	// 同一听者重复连接时踢掉旧连接
	if old, exists := h.clients[client.listenerID]; exists {
		old.closed = true
		close(old.send)
		old.conn.Close()
	}
	h.clients[client.listenerID] = client
	h.mu.Unlock()

	// 在线状态镜像到 Redis，便于多实例观察
	if err := cache.SetListenerOnline(context.Background(), client.listenerID); err != nil {
		logger.Warn("更新听者在线状态失败",
			logger.String("listenerId", client.listenerID),
			logger.ErrorField(err))
	}

	logger.Info("听者已连接", logger.String("listenerId", client.listenerID))

	if h.notifier != nil {
		h.notifier.OnListenerEligible(client.listenerID)
	}
}

func (h *BridgeHub) unregisterClient(client *bridgeClient) {
	h.mu.Lock()
	current, exists := h.clients[client.listenerID]
	if exists && current == client {
		delete(h.clients, client.listenerID)
		client.closed = true
		close(client.send)
	}
	h.mu.Unlock()

	if !exists || current != client {
		return
	}

	if err := cache.SetListenerOffline(context.Background(), client.listenerID); err != nil {
		logger.Warn("清除听者在线状态失败",
			logger.String("listenerId", client.listenerID),
			logger.ErrorField(err))
	}

	logger.Info("听者已断开", logger.String("listenerId", client.listenerID))

	if h.notifier != nil {
		h.notifier.OnListenerGone(client.listenerID)
	}
}

func (h *BridgeHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closed = true
		close(client.send)
		client.conn.Close()
		delete(h.clients, id)
	}
}

// IsListenerEligible 实现 playback.ListenerGate
// 可达 = 连接在线且平台侧未上报过不可达
func (h *BridgeHub) IsListenerEligible(listenerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[listenerID]
	return ok && client.eligible
}

// TriggerAt 实现 playback.SoundEmitter：空间触发广播给所有连接
// 声音是否可闻由平台端按坐标与衰减距离自行判定
func (h *BridgeHub) TriggerAt(eventIndex int, desc model.SoundEventDescriptor, pos model.Position, volume float64) {
	msg := &BridgeMessage{
		Type:       MsgTypeTriggerAt,
		EventIndex: eventIndex,
		EventName:  desc.EventName,
		AssetName:  desc.AssetName,
		Category:   desc.Category,
		Volume:     volume,
		Pitch:      desc.Pitch,
		X:          pos.X,
		Y:          pos.Y,
		Z:          pos.Z,
		Timestamp:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("序列化触发消息失败", logger.ErrorField(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 发送缓冲满说明连接已僵死，丢弃这条触发
			logger.Warn("听者发送缓冲已满，丢弃触发",
				logger.String("listenerId", client.listenerID))
		}
	}
}

// TriggerForListener 实现 playback.SoundEmitter：定向触发
func (h *BridgeHub) TriggerForListener(eventIndex int, desc model.SoundEventDescriptor, listenerID string, volume float64) {
	msg := &BridgeMessage{
		Type:       MsgTypeTriggerListener,
		EventIndex: eventIndex,
		EventName:  desc.EventName,
		AssetName:  desc.AssetName,
		Category:   desc.Category,
		Volume:     volume,
		Pitch:      desc.Pitch,
		ListenerID: listenerID,
		Timestamp:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("序列化触发消息失败", logger.ErrorField(err))
		return
	}

	h.mu.RLock()
	client, ok := h.clients[listenerID]
	h.mu.RUnlock()
	if !ok {
		logger.Debug("听者不在线，触发落空", logger.String("listenerId", listenerID))
		return
	}

	select {
	case client.send <- data:
	default:
		logger.Warn("听者发送缓冲已满，丢弃触发",
			logger.String("listenerId", listenerID))
	}
}

// ServeBridgeWS 处理 /ws/bridge 升级请求
// 听者标识通过 ?listener= 查询参数握手
func (h *BridgeHub) ServeBridgeWS(w http.ResponseWriter, r *http.Request) {
	listenerID := r.URL.Query().Get("listener")
	if listenerID == "" {
		http.Error(w, "listener query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket 升级失败", logger.ErrorField(err))
		return
	}

	client := &bridgeClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 64),
		listenerID: listenerID,
		eligible:   true,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *bridgeClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket 异常断开",
					logger.String("listenerId", c.listenerID),
					logger.ErrorField(err))
			}
			return
		}

		var msg BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("桥接消息解析失败", logger.ErrorField(err))
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *bridgeClient) handleMessage(msg *BridgeMessage) {
	switch msg.Type {
	case MsgTypePing:
		pong, _ := json.Marshal(&BridgeMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		// 在读锁内发送：被同名新连接踢掉的旧连接在锁内置 closed 并关闭
		// send，这里不检查会撞上向已关闭通道写入
		c.hub.mu.RLock()
		if !c.closed {
			select {
			case c.send <- pong:
			default:
			}
		}
		c.hub.mu.RUnlock()

	case MsgTypeState:
		if msg.Eligible == nil {
			return
		}
		eligible := *msg.Eligible

		c.hub.mu.Lock()
		c.eligible = eligible
		c.hub.mu.Unlock()

		if c.hub.notifier == nil {
			return
		}
		// 平台侧上报的可达性变化驱动自动暂停/续播
		if eligible {
			c.hub.notifier.OnListenerEligible(c.listenerID)
		} else {
			c.hub.notifier.OnListenerGone(c.listenerID)
		}

	default:
		logger.Debug("未知桥接消息类型", logger.String("type", string(msg.Type)))
	}
}

func (c *bridgeClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
