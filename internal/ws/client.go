package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/subscription"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Voice frames carry a whole
	// base64 recording.
	maxMessageSize = 16 << 20

	// Synthesized replies are streamed in chunks of this size
	audioChunkSize = 32 << 10
)

// Frame types
const (
	TypeChat       = "chat"
	TypeVoice      = "voice"
	TypeStop       = "stop"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeTyping     = "typing"
	TypeProcessing = "processing"
	TypeAudioChunk = "audio_chunk"
	TypeAudioEnd   = "audio_end"
	TypePlayback   = "playback"
	TypeError      = "error"
)

// Frame is the envelope of every message on the socket
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ChatFrame is the content of a "chat" frame
type ChatFrame struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
	Role           string `json:"role,omitempty"`
}

// VoiceFrame is the content of a "voice" frame. Audio is base64 in JSON.
type VoiceFrame struct {
	ConversationID string `json:"conversationId"`
	Audio          []byte `json:"audio,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	Text           string `json:"text,omitempty"`
}

// StopFrame is the content of a "stop" frame
type StopFrame struct {
	ConversationID string `json:"conversationId"`
}

// AudioChunk is one piece of a streamed reply
type AudioChunk struct {
	MessageID string `json:"messageId"`
	Seq       int    `json:"seq"`
	Data      []byte `json:"data"`
}

// AudioEnd closes a streamed reply
type AudioEnd struct {
	MessageID string             `json:"messageId"`
	Reason    service.StopReason `json:"reason"`
}

// ErrorFrame is the content of an "error" frame
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type outbound struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// Client is one connected socket. Frames run with the identity of the user
// that opened it.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(c.cancel)
}

// ReadPump reads frames until the connection fails or the client is closed
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("WebSocket read failed", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError(apperrors.NewInvalidArgumentError("Malformed frame"))
			continue
		}

		go c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame Frame) {
	switch frame.Type {
	case TypeChat:
		var in ChatFrame
		if c.decode(frame, &in) {
			c.handleChat(in)
		}
	case TypeVoice:
		var in VoiceFrame
		if c.decode(frame, &in) {
			c.handleVoice(in)
		}
	case TypeStop:
		var in StopFrame
		if c.decode(frame, &in) {
			c.handleStop(in)
		}
	case TypePing:
		c.sendMessage(TypePong, nil)
	default:
		c.sendError(apperrors.NewInvalidArgumentError("Unknown frame type").
			WithDetails(gin.H{"type": frame.Type}))
	}
}

func (c *Client) decode(frame Frame, v any) bool {
	if len(frame.Content) == 0 {
		c.sendError(apperrors.NewInvalidArgumentError("Frame content is required"))
		return false
	}
	if err := json.Unmarshal(frame.Content, v); err != nil {
		c.sendError(apperrors.NewInvalidArgumentError("Malformed frame content").
			WithDetails(gin.H{"reason": err.Error()}))
		return false
	}
	return true
}

func (c *Client) handleChat(in ChatFrame) {
	role := service.RoleGeneral
	if in.Role != "" {
		role = service.Role(in.Role)
	}
	if _, therapy := role.Approach(); therapy && !c.allowed(subscription.FeatureAITherapy) {
		return
	}

	c.sendMessage(TypeTyping, gin.H{"isTyping": true, "conversationId": in.ConversationID})
	result, err := c.Hub.dialogue.Chat(c.ctx, service.ChatRequest{
		ConversationID: in.ConversationID,
		Utterance:      in.Message,
		Role:           role,
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(TypeChat, result)
}

func (c *Client) handleVoice(in VoiceFrame) {
	if !c.allowed(subscription.FeatureAITherapyPlus) {
		return
	}

	c.sendMessage(TypeProcessing, gin.H{"conversationId": in.ConversationID})

	result, err := c.Hub.voice.Turn(c.ctx, service.VoiceTurnInput{
		ConversationID: in.ConversationID,
		Audio:          in.Audio,
		ContentType:    in.ContentType,
		FallbackText:   in.Text,
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(TypeVoice, result)

	if result.ReplyAudioURL != "" {
		c.streamReply(in.ConversationID, result.Answer.ID, result.ReplyAudioURL)
	}
}

func (c *Client) handleStop(in StopFrame) {
	if !c.allowed(subscription.FeatureAITherapyPlus) {
		return
	}

	view, err := c.Hub.voice.Stop(c.ctx, in.ConversationID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(TypePlayback, view)
}

// streamReply sends the synthesized reply while its playback is current. A
// stop, a newer turn or a disconnect ends the stream early.
func (c *Client) streamReply(conversationID, messageID, audioURL string) {
	log := c.Hub.log.WithContext(c.ctx)
	playback := c.Hub.voice.Playback(conversationID)

	f, _, err := c.Hub.audio.Open(strings.TrimPrefix(audioURL, service.AudioURLPrefix))
	if err != nil {
		log.LogError(err, "Failed to open synthesized reply", "audio_url", audioURL)
		return
	}
	defer f.Close()

	buf := make([]byte, audioChunkSize)
	for seq := 0; ; seq++ {
		if reason, ok := c.interrupted(playback, messageID); ok {
			c.sendMessage(TypeAudioEnd, AudioEnd{MessageID: messageID, Reason: reason})
			return
		}

		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.sendMessage(TypeAudioChunk, AudioChunk{MessageID: messageID, Seq: seq, Data: chunk})
		}
		if errors.Is(err, io.EOF) {
			playback.Finish(messageID)
			c.sendMessage(TypeAudioEnd, AudioEnd{MessageID: messageID, Reason: service.StopFinished})
			return
		}
		if err != nil {
			log.LogError(err, "Failed to read synthesized reply", "audio_url", audioURL)
			return
		}
	}
}

func (c *Client) interrupted(playback *service.Playback, messageID string) (service.StopReason, bool) {
	if c.ctx.Err() != nil {
		return service.StopRequested, true
	}
	switch s := playback.State().(type) {
	case service.Playing:
		if s.MessageID == messageID {
			return "", false
		}
		return service.StopReplaced, true
	case service.Stopped:
		if s.MessageID == messageID {
			return s.Reason, true
		}
		return service.StopReplaced, true
	default:
		return service.StopRequested, true
	}
}

// allowed checks feature against the user's plan at the time of the frame
// and reports FEATURE_LOCKED to the client when it is missing
func (c *Client) allowed(feature subscription.Feature) bool {
	if err := c.Hub.features.Require(c.ctx, feature); err != nil {
		c.sendError(err)
		return false
	}
	return true
}

func (c *Client) sendMessage(messageType string, content interface{}) {
	data, err := json.Marshal(outbound{Type: messageType, Content: content})
	if err != nil {
		c.Hub.log.LogError(err, "Failed to marshal frame", "type", messageType)
		return
	}

	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) sendError(err error) {
	appErr := apperrors.FromError(err)
	c.sendMessage(TypeError, ErrorFrame{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeWs upgrades an authenticated request and starts the client pumps
func ServeWs(hub *Hub, c *gin.Context) {
	userID, ok := identity.UserID(c.Request.Context())
	if !ok {
		c.Error(apperrors.NewUnauthenticatedError("Authentication required"))
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:      hub.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	base := identity.WithUserID(context.Background(), userID)
	base = identity.WithRequestID(base, identity.RequestID(c.Request.Context()))
	ctx, cancel := context.WithCancel(base)

	client := &Client{
		ID:     clientID,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    hub,
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
