package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func init() {
	chatCmd.Flags().String("conversation", "", "continue an existing conversation")
	chatCmd.Flags().String("role", string(service.RoleGeneral), "assistant role")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant over the WebSocket, one line per turn",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		conversationID, _ := cmd.Flags().GetString("conversation")
		role, _ := cmd.Flags().GetString("role")

		conn, err := dialSocket()
		if err != nil {
			return err
		}
		defer conn.Close()

		replies := make(chan ws.Frame)
		readErr := make(chan error, 1)
		go func() {
			for {
				var frame ws.Frame
				if err := conn.ReadJSON(&frame); err != nil {
					readErr <- err
					return
				}
				replies <- frame
			}
		}()

		fmt.Fprintln(os.Stderr, "Connected. Type a message, Ctrl-D to quit.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			content, err := json.Marshal(ws.ChatFrame{ConversationID: conversationID, Message: line, Role: role})
			if err != nil {
				return err
			}
			if err := conn.WriteJSON(ws.Frame{Type: ws.TypeChat, Content: content}); err != nil {
				return err
			}

			id, err := awaitChatReply(cmd, replies, readErr)
			if err != nil {
				return err
			}
			if id != "" {
				conversationID = id
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return scanner.Err()
	},
}

// awaitChatReply prints frames until the answer or an error arrives and
// returns the conversation the answer belongs to
func awaitChatReply(cmd *cobra.Command, replies <-chan ws.Frame, readErr <-chan error) (string, error) {
	for {
		select {
		case <-cmd.Context().Done():
			return "", cmd.Context().Err()
		case err := <-readErr:
			return "", err
		case frame := <-replies:
			switch frame.Type {
			case ws.TypeChat:
				var result service.ChatResult
				if err := json.Unmarshal(frame.Content, &result); err != nil {
					return "", err
				}
				if result.Answer != nil {
					fmt.Printf("> %s\n", result.Answer.Content)
				}
				if result.Conversation == nil {
					return "", nil
				}
				return result.Conversation.ID, nil
			case ws.TypeError:
				var e ws.ErrorFrame
				if err := json.Unmarshal(frame.Content, &e); err != nil {
					return "", err
				}
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Code, e.Message)
				return "", nil
			}
		}
	}
}

func dialSocket() (*websocket.Conn, error) {
	u, err := url.Parse(endpoint("/ws"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}
