package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/werewolf-client/internal/config"
	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"go.uber.org/zap"
)

// wsTestServer 测试用WebSocket服务端
type wsTestServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	frames   []chan *models.SocketMessage
	hits     int32
	refusing int32 // 非0时拒绝升级
	silent   int32 // 非0时升级后不发送握手帧
}

// newWSTestServer 创建测试服务端，升级成功后发送connected握手帧
func newWSTestServer() *wsTestServer {
	s := &wsTestServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		if atomic.LoadInt32(&s.refusing) != 0 {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		frameCh := make(chan *models.SocketMessage, 16)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.frames = append(s.frames, frameCh)
		s.mu.Unlock()

		if atomic.LoadInt32(&s.silent) == 0 {
			msg := models.SocketMessage{Type: models.MessageTypeConnected, Timestamp: time.Now().UnixMilli()}
			raw, _ := json.Marshal(msg)
			conn.WriteMessage(websocket.TextMessage, raw)
		}

		// 唯一读取者：响应心跳、收集出站帧、感知客户端关闭
		for {
			msgType, raw, err := conn.ReadMessage()
			if err != nil {
				close(frameCh)
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var msg models.SocketMessage
			if json.Unmarshal(raw, &msg) == nil {
				select {
				case frameCh <- &msg:
				default:
				}
			}
		}
	}))
	return s
}

// URL 返回ws协议地址
func (s *wsTestServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Hits 服务端收到的连接请求数
func (s *wsTestServer) Hits() int32 {
	return atomic.LoadInt32(&s.hits)
}

// CloseConn 服务端主动关闭第n个连接（从0开始）
func (s *wsTestServer) CloseConn(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.conns) {
		s.conns[n].Close()
	}
}

// Push 通过第n个连接下发消息
func (s *wsTestServer) Push(n int, msg *models.SocketMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.conns) {
		raw, _ := json.Marshal(msg)
		s.conns[n].WriteMessage(websocket.TextMessage, raw)
	}
}

// ReadFrame 取出第n个连接收到的下一帧出站消息
func (s *wsTestServer) ReadFrame(n int, timeout time.Duration) (*models.SocketMessage, error) {
	s.mu.Lock()
	frameCh := s.frames[n]
	s.mu.Unlock()

	select {
	case msg, ok := <-frameCh:
		if !ok {
			return nil, errFrameChClosed
		}
		return msg, nil
	case <-time.After(timeout):
		return nil, errFrameTimeout
	}
}

var (
	errFrameChClosed = &frameError{"连接已关闭"}
	errFrameTimeout  = &frameError{"等待出站帧超时"}
)

// frameError 测试服务端读帧错误
type frameError struct{ msg string }

func (e *frameError) Error() string { return e.msg }

// Close 关闭测试服务端
func (s *wsTestServer) Close() {
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.server.Close()
}

// AdapterTestSuite 传输适配器测试套件
type AdapterTestSuite struct {
	suite.Suite
	server  *wsTestServer
	adapter *Adapter
}

// SetupTest 每个测试使用独立的服务端与适配器
func (suite *AdapterTestSuite) SetupTest() {
	suite.server = newWSTestServer()
	suite.adapter = NewAdapter(suite.testConfig(), zap.NewNop())
}

// TearDownTest 清理
func (suite *AdapterTestSuite) TearDownTest() {
	suite.adapter.Close()
	suite.server.Close()
}

// testConfig 快速退避的测试配置
func (suite *AdapterTestSuite) testConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		URL:              suite.server.URL(),
		HandshakeTimeout: 500 * time.Millisecond,
		PingInterval:     50 * time.Millisecond,
		PongTimeout:      time.Second,
		WriteTimeout:     500 * time.Millisecond,
		SendBufferSize:   16,
		MaxMessageSize:   64 * 1024,
		Reconnect: config.ReconnectConfig{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    40 * time.Millisecond,
			MaxAttempts: 2,
		},
	}
}

// waitSignal 等待信号或超时
func waitSignal(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("等待超时: %s", what)
	}
}

// TestConnectHandshake 测试连接与握手确认
func (suite *AdapterTestSuite) TestConnectHandshake() {
	connected := make(chan struct{}, 1)
	suite.adapter.Subscribe(TopicConnected, func(Event) {
		connected <- struct{}{}
	})

	err := suite.adapter.Connect(context.Background(), "token-1", "room-1")
	suite.NoError(err)
	suite.True(suite.adapter.IsConnected())
	waitSignal(suite.T(), connected, time.Second, "connected事件")
}

// TestConnectWhileConnecting 测试连接中的并发Connect被拒绝
func (suite *AdapterTestSuite) TestConnectWhileConnecting() {
	atomic.StoreInt32(&suite.server.silent, 1) // 握手帧被扣住，第一个Connect停留在连接中

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- suite.adapter.Connect(context.Background(), "token-1", "")
	}()

	// 等待第一个调用进入连接中状态
	require.Eventually(suite.T(), func() bool {
		return suite.adapter.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	err := suite.adapter.Connect(context.Background(), "token-1", "")
	suite.True(apperrors.Is(err, apperrors.ErrAlreadyConnecting))

	// 第一个调用最终因握手超时失败
	suite.Error(<-firstDone)
}

// TestHandshakeTimeout 测试握手超时
func (suite *AdapterTestSuite) TestHandshakeTimeout() {
	atomic.StoreInt32(&suite.server.silent, 1)

	err := suite.adapter.Connect(context.Background(), "token-1", "")
	suite.Error(err)
	suite.True(apperrors.Is(err, apperrors.ErrHandshakeTimeout))
	suite.Equal(StateDisconnected, suite.adapter.State())
}

// TestSendNotConnected 测试未连接时发送失败
func (suite *AdapterTestSuite) TestSendNotConnected() {
	err := suite.adapter.SendChat("hello", models.VisibilityPublic)
	suite.True(apperrors.Is(err, apperrors.ErrNotConnected))
}

// TestSendDelivers 测试出站消息格式
func (suite *AdapterTestSuite) TestSendDelivers() {
	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))

	suite.NoError(suite.adapter.SendChat("大家好", models.VisibilityTeam))

	msg, err := suite.server.ReadFrame(0, time.Second)
	suite.NoError(err)
	suite.Equal(models.MessageTypeSendMessage, msg.Type)
	suite.NotZero(msg.Timestamp)

	var payload models.ChatPayload
	suite.NoError(json.Unmarshal(msg.Data, &payload))
	suite.Equal("大家好", payload.Content)
	suite.Equal(models.VisibilityTeam, payload.Visibility)
}

// TestVotePayload 测试投票载荷，nil目标表示弃票
func (suite *AdapterTestSuite) TestVotePayload() {
	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))

	target := 3
	suite.NoError(suite.adapter.SendVote(&target))
	msg, err := suite.server.ReadFrame(0, time.Second)
	suite.NoError(err)
	suite.Equal(models.MessageTypeVote, msg.Type)

	var payload models.VotePayload
	suite.NoError(json.Unmarshal(msg.Data, &payload))
	suite.NotNil(payload.Target)
	suite.Equal(3, *payload.Target)

	suite.NoError(suite.adapter.SendVote(nil))
	msg, err = suite.server.ReadFrame(0, time.Second)
	suite.NoError(err)
	suite.NoError(json.Unmarshal(msg.Data, &payload))
	suite.Nil(payload.Target)
}

// TestInboundDispatch 测试入站消息分发与订阅取消
func (suite *AdapterTestSuite) TestInboundDispatch() {
	received := make(chan *models.SocketMessage, 4)
	sub := suite.adapter.Subscribe(TopicGameEvent, func(evt Event) {
		received <- evt.Message
	})

	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))

	event := models.GameEvent{Idx: 1, Type: models.EventTypeSystem, AuthorName: "GM"}
	raw, _ := json.Marshal(event)
	suite.server.Push(0, &models.SocketMessage{Type: models.MessageTypeGameEvent, Data: raw})

	select {
	case msg := <-received:
		var got models.GameEvent
		suite.NoError(json.Unmarshal(msg.Data, &got))
		suite.Equal(int64(1), got.Idx)
	case <-time.After(time.Second):
		suite.Fail("未收到game_event")
	}

	// 取消订阅后不再接收
	sub.Cancel()
	suite.server.Push(0, &models.SocketMessage{Type: models.MessageTypeGameEvent, Data: raw})
	select {
	case <-received:
		suite.Fail("取消订阅后仍收到消息")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSubscriberPanicIsolation 测试订阅者panic不影响其他订阅者
func (suite *AdapterTestSuite) TestSubscriberPanicIsolation() {
	received := make(chan struct{}, 1)
	suite.adapter.Subscribe(TopicRoomUpdate, func(Event) {
		panic("订阅者故障")
	})
	suite.adapter.Subscribe(TopicRoomUpdate, func(Event) {
		received <- struct{}{}
	})

	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", ""))
	suite.server.Push(0, &models.SocketMessage{Type: models.MessageTypeRoomUpdate, Data: []byte(`{}`)})

	waitSignal(suite.T(), received, time.Second, "第二个订阅者收到消息")
}

// TestReconnectExhaustion 测试重连退避与次数耗尽
func (suite *AdapterTestSuite) TestReconnectExhaustion() {
	exhausted := make(chan struct{}, 1)
	suite.adapter.Subscribe(TopicConnectionError, func(evt Event) {
		if apperrors.Is(evt.Err, apperrors.ErrReconnectExhausted) {
			exhausted <- struct{}{}
		}
	})

	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))

	// 之后的重连请求全部被拒绝
	atomic.StoreInt32(&suite.server.refusing, 1)
	suite.server.CloseConn(0)

	waitSignal(suite.T(), exhausted, 3*time.Second, "重连耗尽事件")

	// 耗尽后计数停在上限且不再有新的连接请求
	suite.Equal(2, suite.adapter.ReconnectAttempts())
	hits := suite.server.Hits()
	time.Sleep(150 * time.Millisecond)
	suite.Equal(hits, suite.server.Hits())

	// 耗尽后的环境信号是空操作
	suite.adapter.Nudge()
	time.Sleep(100 * time.Millisecond)
	suite.Equal(hits, suite.server.Hits())
}

// TestReconnectSuccessResetsCounter 测试重连成功后计数归零
func (suite *AdapterTestSuite) TestReconnectSuccessResetsCounter() {
	connected := make(chan struct{}, 4)
	suite.adapter.Subscribe(TopicConnected, func(Event) {
		connected <- struct{}{}
	})
	disconnected := make(chan struct{}, 4)
	suite.adapter.Subscribe(TopicDisconnected, func(Event) {
		disconnected <- struct{}{}
	})

	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))
	waitSignal(suite.T(), connected, time.Second, "首次连接")

	// 服务端断开后自动重连成功
	suite.server.CloseConn(0)
	waitSignal(suite.T(), disconnected, time.Second, "断开事件")
	waitSignal(suite.T(), connected, 2*time.Second, "自动重连成功")

	suite.Equal(0, suite.adapter.ReconnectAttempts())
	suite.True(suite.adapter.IsConnected())
}

// TestDisconnectCancelsReconnect 测试主动断开取消重连
func (suite *AdapterTestSuite) TestDisconnectCancelsReconnect() {
	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))

	atomic.StoreInt32(&suite.server.refusing, 1)
	suite.server.CloseConn(0)

	// 第一次重连调度后立即主动断开
	time.Sleep(5 * time.Millisecond)
	suite.adapter.Disconnect()

	hits := suite.server.Hits()
	time.Sleep(150 * time.Millisecond)
	suite.Equal(hits, suite.server.Hits())
	suite.Equal(StateDisconnected, suite.adapter.State())

	// 幂等：重复断开安全
	suite.adapter.Disconnect()
}

// TestNudgeTriggersReconnect 测试环境信号触发机会性重连
func (suite *AdapterTestSuite) TestNudgeTriggersReconnect() {
	connected := make(chan struct{}, 4)
	suite.adapter.Subscribe(TopicConnected, func(Event) {
		connected <- struct{}{}
	})

	suite.NoError(suite.adapter.Connect(context.Background(), "token-1", "room-1"))
	waitSignal(suite.T(), connected, time.Second, "首次连接")

	// 主动断开后凭证仍被持有，Nudge应立即重连
	suite.adapter.Disconnect()
	suite.adapter.Nudge()
	waitSignal(suite.T(), connected, 2*time.Second, "Nudge触发的重连")
	suite.True(suite.adapter.IsConnected())
}

// TestCloseTerminal 测试Close后不可再连接
func (suite *AdapterTestSuite) TestCloseTerminal() {
	suite.adapter.Close()
	err := suite.adapter.Connect(context.Background(), "token-1", "")
	suite.True(apperrors.Is(err, apperrors.ErrConnectionClosed))
}

// TestAdapterTestSuite 运行测试套件
func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
