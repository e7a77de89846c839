// Package chattest runs an in-process room service for tests: the REST room
// API plus a STOMP broker reachable over WebSocket and raw TCP.
package chattest

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/pkg/protocol"
)

// WebSocketPath is the STOMP endpoint path on the HTTP server.
const WebSocketPath = "/chat/websocket"

// Option configures a Server.
type Option func(*Server)

// WithHistoryPath sets the last path segment of the history route.
func WithHistoryPath(path string) Option {
	return func(s *Server) { s.historyPath = strings.Trim(path, "/") }
}

// WithRejectConnect makes the broker answer CONNECT with an ERROR frame.
func WithRejectConnect(msg string) Option {
	return func(s *Server) { s.rejectConnect = msg }
}

// WithConnectHook runs fn before each CONNECTED reply. n counts CONNECT
// frames from 1. fn may block to delay the handshake.
func WithConnectHook(fn func(n int)) Option {
	return func(s *Server) { s.onConnect = fn }
}

// WithHangUpAfterConnect closes the connection right after the CONNECTED
// reply when fn returns true for the n-th CONNECT frame. Frames the client
// sends afterwards, such as SUBSCRIBE, are never processed.
func WithHangUpAfterConnect(fn func(n int) bool) Option {
	return func(s *Server) { s.hangUp = fn }
}

// WithLogger sets the broker's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server is the in-process room service.
type Server struct {
	http     *httptest.Server
	listener net.Listener
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	historyPath   string
	rejectConnect string
	onConnect     func(n int)
	hangUp        func(n int) bool

	mu       sync.Mutex
	rooms    map[string][]protocol.Message
	sends    []protocol.Message
	connects int
	peers    map[*peer]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// New starts a Server. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		logger:      zerolog.Nop(),
		historyPath: "messages",
		rooms:       make(map[string][]protocol.Message),
		peers:       make(map[*peer]struct{}),
		quit:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router)
	s.http = httptest.NewServer(router)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.http.Close()
		panic("chattest: failed to listen: " + err.Error())
	}
	s.listener = listener
	s.wg.Add(1)
	go s.acceptConnections()

	return s
}

// RegisterRoutes installs the REST and WebSocket routes.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/rooms/", s.createRoom)
		api.GET("/rooms/:roomId", s.getRoom)
		api.GET("/rooms/:roomId/"+s.historyPath, s.getMessages)
	}
	r.GET(WebSocketPath, s.handleWebSocket)
}

// URL returns the REST base URL.
func (s *Server) URL() string {
	return s.http.URL
}

// WSEndpoint returns the ws:// STOMP endpoint.
func (s *Server) WSEndpoint() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + WebSocketPath
}

// StompAddr returns the tcp:// STOMP endpoint.
func (s *Server) StompAddr() string {
	return "tcp://" + s.listener.Addr().String()
}

// CreateRoom seeds a room with history in server order.
func (s *Server) CreateRoom(roomID string, history ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = append([]protocol.Message{}, history...)
}

// History returns a copy of the stored messages of roomID.
func (s *Server) History(roomID string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.rooms[roomID]...)
}

// Sends returns every message received in a SEND frame, in arrival order.
func (s *Server) Sends() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.sends...)
}

// Connects returns the number of CONNECT frames seen.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Subscribers returns the number of live subscriptions on destination.
func (s *Server) Subscribers(destination string) int {
	return s.hub.Subscribers(destination)
}

// WaitSubscribers polls until destination has n subscriptions or timeout
// elapses, and reports whether the count was reached.
func (s *Server) WaitSubscribers(destination string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.hub.Subscribers(destination) == n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Publish broadcasts m on the topic of roomID the way the service echoes
// a SEND.
func (s *Server) Publish(roomID string, m protocol.Message) {
	body, err := json.Marshal(echo{Sender: m.Sender, Content: m.Content, TimeStamp: m.Timestamp})
	if err != nil {
		return
	}
	s.hub.Broadcast(protocol.Topic(roomID), uuid.NewString(), body)
}

// DropAll closes every peer stream without a DISCONNECT.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// Close stops both listeners and waits for every peer to finish.
func (s *Server) Close() {
	close(s.quit)
	s.listener.Close()
	s.DropAll()
	s.http.Close()
	s.wg.Wait()
}

// echo is the body the service broadcasts for a message.
type echo struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	TimeStamp string `json:"timeStamp"`
}

func (s *Server) createRoom(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid body")
		return
	}
	roomID := strings.TrimSpace(string(body))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		c.String(http.StatusBadRequest, "Room already exists!")
		return
	}
	s.rooms[roomID] = []protocol.Message{}
	c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString(), "roomId": roomID, "messages": []any{}})
}

func (s *Server) getRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	s.mu.Lock()
	_, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		c.String(http.StatusBadRequest, "Room not found!!")
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}

func (s *Server) getMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	s.mu.Lock()
	history, ok := s.rooms[roomID]
	out := make([]echo, len(history))
	for i, m := range history {
		out[i] = echo{Sender: m.Sender, Content: m.Content, TimeStamp: m.Timestamp}
	}
	s.mu.Unlock()

	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(newPeer(&wsStream{conn: conn}))
	}()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug().Err(err).Msg("failed to accept")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(newPeer(conn))
		}()
	}
}

func (s *Server) track(p *peer, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if live {
		s.peers[p] = struct{}{}
		select {
		case <-s.quit:
			p.close()
		default:
		}
	} else {
		delete(s.peers, p)
	}
}

func (s *Server) countConnect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connects
}

func (s *Server) recordSend(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, m)
}

func (s *Server) appendHistory(roomID string, m protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	s.rooms[roomID] = append(history, m)
	return true
}
