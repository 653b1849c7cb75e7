package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/storeline/storechat/pkg/chatclient"
	"github.com/storeline/storechat/pkg/model"
	"github.com/storeline/storechat/pkg/wire"
)

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, role, name string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"userId":      userID,
		"role":        role,
		"displayName": name,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return lr.Token, nil
}

func fetchHistory(apiAddr, token, conversationID string) ([]model.Message, error) {
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/history?conversation_id="+url.QueryEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var history []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, err
	}
	return history, nil
}

func main() {
	gatewayAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "customer", "customer or owner")
	name := flag.String("name", "", "display name")
	peer := flag.String("peer", "", "peer user id (the owner to chat with, for customers)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	fmt.Printf("Logging in as %s (%s)...\n", *userID, *role)
	token, err := login(*apiAddr, *userID, *role, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	u := url.URL{Scheme: "ws", Host: *gatewayAddr, Path: "/ws"}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	transport, err := chatclient.DialTransport(u.String(), nil, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial failed:", err)
		os.Exit(1)
	}

	var mu sync.Mutex
	conversationID := ""
	setConversation := func(id string) {
		mu.Lock()
		conversationID = id
		mu.Unlock()
	}
	currentConversation := func() string {
		mu.Lock()
		defer mu.Unlock()
		return conversationID
	}

	render := func(ev wire.ServerEvent) {
		switch ev := ev.(type) {
		case *wire.ConversationCreated:
			if currentConversation() == "" {
				setConversation(ev.ConversationID)
				fmt.Printf("\rconversation started: %s\n> ", ev.ConversationID)
			}
		case *wire.ReceiveMessage:
			if ev.SenderID != *userID {
				text := ev.Text
				if text == "" {
					text = "[file] " + ev.FileName
				}
				fmt.Printf("\r%s: %s\n> ", ev.SenderID, text)
			}
		case *wire.UserTyping:
			if ev.IsTyping {
				fmt.Printf("\r%s is typing...\n> ", ev.UserID)
			}
		case *wire.NewConversation:
			fmt.Printf("\rnew conversation from %s (%s)\n> ", ev.CustomerID, ev.ConversationID)
		case *wire.UserOnline:
			state := "offline"
			if ev.IsOnline {
				state = "online"
			}
			fmt.Printf("\r%s is %s\n> ", ev.UserID, state)
		case *wire.ErrorEvent:
			fmt.Printf("\rserver error: %s\n> ", ev.Message)
		}
	}

	c := chatclient.New(transport,
		chatclient.Identity{UserID: *userID, Role: model.Role(*role), DisplayName: *name},
		chatclient.WithLogger(logger),
		chatclient.WithEventHook(render),
	)
	c.Start()
	defer c.Close()

	if model.Role(*role) == model.RoleCustomer && *peer != "" {
		id, err := c.Resolve(context.Background(), *peer)
		switch {
		case err == nil:
			setConversation(id)
			fmt.Printf("conversation: %s\n", id)
			if history, err := fetchHistory(*apiAddr, token, id); err == nil {
				c.LoadHistory(id, history)
				for _, m := range history {
					fmt.Printf("%s: %s\n", m.SenderID, m.Payload.Preview())
				}
			}
		case errors.Is(err, chatclient.ErrResolutionTimeout):
			fmt.Println("no conversation yet; your first message starts one")
		default:
			fmt.Fprintln(os.Stderr, "resolve failed:", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				c.SetTyping(currentConversation(), true)
			case text == "/read":
				id := currentConversation()
				msgs := c.Messages(id)
				for i := len(msgs) - 1; i >= 0; i-- {
					if msgs[i].SenderID != *userID && msgs[i].Confirmed() {
						c.MarkAsRead(id, msgs[i].ID)
						break
					}
				}
			case text == "/list":
				for _, row := range c.Conversations() {
					fmt.Printf("%s  %s  unread=%d  %q\n",
						row.ConversationID, row.CustomerID, row.UnreadCount, row.LastMessage)
				}
			case strings.HasPrefix(text, "/open "):
				id := strings.TrimSpace(strings.TrimPrefix(text, "/open "))
				setConversation(id)
				c.OpenConversation(id)
				fmt.Printf("opened %s\n", id)
			default:
				if err := c.Send(currentConversation(), *peer, model.Payload{Text: text}); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	<-interrupt
	fmt.Println("\nbye")
}
