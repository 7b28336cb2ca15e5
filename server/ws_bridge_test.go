package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ChunkFM/model"
)

// recordingNotifier 记录可达性回调
type recordingNotifier struct {
	mu       sync.Mutex
	eligible []string
	gone     []string
}

func (n *recordingNotifier) OnListenerEligible(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eligible = append(n.eligible, id)
}

func (n *recordingNotifier) OnListenerGone(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gone = append(n.gone, id)
}

func (n *recordingNotifier) goneCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.gone)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dialBridge(t *testing.T, hub *BridgeHub, listenerID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeBridgeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bridge?listener=" + listenerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestHub(t *testing.T) (*BridgeHub, *recordingNotifier) {
	t.Helper()
	hub := NewBridgeHub()
	notifier := &recordingNotifier{}
	hub.BindNotifier(notifier)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub, notifier
}

func TestBridgeEligibilityLifecycle(t *testing.T) {
	hub, notifier := newTestHub(t)

	if hub.IsListenerEligible("alice") {
		t.Fatalf("disconnected listener must be ineligible")
	}

	conn := dialBridge(t, hub, "alice")
	waitFor(t, func() bool { return hub.IsListenerEligible("alice") }, "listener online")

	// 平台侧上报不可达
	ineligible := false
	msg, _ := json.Marshal(&BridgeMessage{Type: MsgTypeState, Eligible: &ineligible})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write state: %v", err)
	}
	waitFor(t, func() bool { return !hub.IsListenerEligible("alice") }, "listener ineligible")
	waitFor(t, func() bool { return notifier.goneCount() >= 1 }, "gone callback")

	// 恢复可达
	eligible := true
	msg, _ = json.Marshal(&BridgeMessage{Type: MsgTypeState, Eligible: &eligible})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write state: %v", err)
	}
	waitFor(t, func() bool { return hub.IsListenerEligible("alice") }, "listener eligible again")

	// 断开后不可达，且触发 gone 回调
	before := notifier.goneCount()
	conn.Close()
	waitFor(t, func() bool { return !hub.IsListenerEligible("alice") }, "listener offline")
	waitFor(t, func() bool { return notifier.goneCount() > before }, "gone after disconnect")
}

func TestBridgeTriggerForListener(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialBridge(t, hub, "bob")
	waitFor(t, func() bool { return hub.IsListenerEligible("bob") }, "listener online")

	desc := model.SoundEventDescriptor{
		EventName: "cfm_abc_chunk_000",
		AssetName: "chunks/cfm_abc/cfm_abc_chunk_000.m4a",
		Pitch:     1.0,
		Category:  "records",
	}
	hub.TriggerForListener(7, desc, "bob", 0.8)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read trigger: %v", err)
	}

	var msg BridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode trigger: %v", err)
	}
	if msg.Type != MsgTypeTriggerListener {
		t.Fatalf("message type = %s", msg.Type)
	}
	if msg.EventIndex != 7 || msg.EventName != desc.EventName || msg.Volume != 0.8 {
		t.Fatalf("trigger payload = %+v", msg)
	}
	if msg.ListenerID != "bob" {
		t.Fatalf("trigger listener = %s", msg.ListenerID)
	}
}

func TestBridgeTriggerAtBroadcasts(t *testing.T) {
	hub, _ := newTestHub(t)
	conn1 := dialBridge(t, hub, "carol")
	conn2 := dialBridge(t, hub, "dave")
	waitFor(t, func() bool {
		return hub.IsListenerEligible("carol") && hub.IsListenerEligible("dave")
	}, "both listeners online")

	desc := model.SoundEventDescriptor{EventName: "cfm_abc_chunk_001", Pitch: 1.0}
	pos := model.Position{X: 10, Y: 64, Z: -5}
	hub.TriggerAt(3, desc, pos, 1.0)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		var msg BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode broadcast: %v", err)
		}
		if msg.Type != MsgTypeTriggerAt || msg.X != 10 || msg.Z != -5 {
			t.Fatalf("broadcast payload = %+v", msg)
		}
	}
}

func TestBridgeRejectsMissingListenerParam(t *testing.T) {
	hub, _ := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeBridgeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bridge"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial without listener param must fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

// 同名听者重复连接会在锁内关闭旧连接的发送通道；
// 旧连接读协程此刻正在回 pong 的话，必须先看到 closed 标记而不是向已关闭通道写入
func TestBridgeKickWhileOldConnectionPings(t *testing.T) {
	hub, _ := newTestHub(t)

	ping, _ := json.Marshal(&BridgeMessage{Type: MsgTypePing, Timestamp: time.Now().UnixMilli()})
	for round := 0; round < 20; round++ {
		old := dialBridge(t, hub, "kicked-listener")
		waitFor(t, func() bool { return hub.IsListenerEligible("kicked-listener") }, "old connection registered")

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := old.WriteMessage(websocket.TextMessage, ping); err != nil {
					return
				}
			}
		}()

		// 踢掉旧连接的同时旧连接还在持续发 ping
		replacement := dialBridge(t, hub, "kicked-listener")
		close(stop)
		wg.Wait()

		replacement.Close()
		old.Close()
		waitFor(t, func() bool { return !hub.IsListenerEligible("kicked-listener") }, "connections drained")
	}
}
