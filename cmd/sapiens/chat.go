package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sapienshq/sapiens/internal/identity"
)

func newChatCmd() *cobra.Command {
	var (
		serverURL    string
		identityPath string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the coach from the terminal",
		Long: `Starts an interactive coaching session against a running Sapiens
server. Your user id is stored in ~/.sapiens/user_id so the coach
remembers you across sessions. Once the conversation leaves onboarding
and a project room is created, messages are recorded in that room.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := identity.NewManager(identityPath)
			if err != nil {
				return err
			}
			userID, err := mgr.GetOrCreate()
			if err != nil {
				return err
			}
			client := newChatClient(serverURL, userID)
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), client)
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:8080", "Sapiens server URL")
	cmd.Flags().StringVar(&identityPath, "identity-file", "", "path to the stored user id (default ~/.sapiens/user_id)")
	return cmd
}

// chatClient talks to the Sapiens API. Once a roomId shows up in a chat
// response it switches from free-standing turns to in-room turns.
type chatClient struct {
	baseURL string
	userID  string
	token   string
	roomID  string
	http    *http.Client
}

func newChatClient(baseURL, userID string) *chatClient {
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		token:   uuid.NewString(),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *chatClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chat: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("chat: %s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("chat: %s: server returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat: decode %s response: %w", path, err)
	}
	return nil
}

func (c *chatClient) init(ctx context.Context) error {
	return c.post(ctx, "/init", map[string]string{"userId": c.userID}, nil)
}

// turn sends one message and returns the coach's reply and the reported
// phase. roomCreated is true on the turn that materialized a room.
func (c *chatClient) turn(ctx context.Context, text string) (reply, phase string, roomCreated bool, err error) {
	if c.roomID != "" {
		var out struct {
			AssistantMessage struct {
				Content string `json:"content"`
			} `json:"assistantMessage"`
			Phase string `json:"phase"`
		}
		err = c.post(ctx, "/rooms/"+c.roomID+"/messages", map[string]string{
			"userId":  c.userID,
			"message": text,
		}, &out)
		if err != nil {
			return "", "", false, err
		}
		return out.AssistantMessage.Content, out.Phase, false, nil
	}

	var out struct {
		Response    string `json:"response"`
		State       string `json:"state"`
		RoomID      string `json:"roomId"`
		RoomCreated bool   `json:"roomCreated"`
	}
	err = c.post(ctx, "/chat", map[string]string{
		"userId":  c.userID,
		"message": text,
	}, &out)
	if err != nil {
		return "", "", false, err
	}
	if out.RoomID != "" {
		c.roomID = out.RoomID
	}
	return out.Response, out.State, out.RoomCreated, nil
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, client *chatClient) error {
	if err := client.init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "Connected as %s. Type a message, or 'exit' to quit.\n", client.userID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			break
		}

		reply, phase, created, err := client.turn(ctx, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", reply)
		if created {
			fmt.Fprintf(out, "[project room created — phase: %s]\n", phase)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat: read input: %w", err)
	}
	fmt.Fprintln(out, "Bye.")
	return nil
}
