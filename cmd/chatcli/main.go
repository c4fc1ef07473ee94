package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"campuschat/internal/api"
	"campuschat/internal/auth"
	"campuschat/internal/config"
	"campuschat/internal/domain"
	"campuschat/internal/session"
	"campuschat/internal/store"
	"campuschat/internal/transport"
	"campuschat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogMode)
	defer log.Logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := auth.StaticTokenSource(cfg.AuthToken)

	backend := api.NewClient(ctx, api.Options{
		BaseURL:        cfg.APIBaseURL,
		Tokens:         tokens,
		Log:            log,
		MemberCacheTTL: cfg.MemberCacheTTL,
	})

	roster := store.NewRosterStore(log)
	ctrl := session.NewController(session.Options{
		Backend: backend,
		Roster:  roster,
		Log:     log,
		NewStream: func() session.Stream {
			return transport.New(transport.Options{
				URL:    cfg.StreamURL,
				Tokens: tokens,
				Log:    log,
				Backoff: transport.Backoff{
					Base: cfg.BackoffBase,
					Cap:  cfg.BackoffCap,
				},
			})
		},
		NearBottomPx: float64(cfg.NearBottomPx),
	})
	defer ctrl.Close()

	if err := ctrl.Start(ctx); err != nil {
		log.Errorf("start session: %v", err)
		os.Exit(1)
	}

	fmt.Println("campuschat cli. commands: /chats /open <id> /send <text> /edit <id> <text> /rm <id> /older /members /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(ctx, ctrl, line); err != nil {
			fmt.Println("error:", err)
		}
		if line == "/quit" {
			return
		}
	}
}

func runCommand(ctx context.Context, ctrl *session.Controller, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/chats":
		for _, e := range ctrl.Roster().Snapshot() {
			badge := ""
			if e.UnreadCount > 0 {
				badge = fmt.Sprintf(" (%d unread)", e.UnreadCount)
			}
			fmt.Printf("  %s  %s%s\n", e.Chat.ID, e.Chat.Name, badge)
		}
	case "/open":
		if rest == "" {
			return fmt.Errorf("usage: /open <chat-id>")
		}
		return ctrl.OpenChat(ctx, rest)
	case "/send":
		_, err := ctrl.SendMessage(ctx, rest)
		return err
	case "/edit":
		id, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /edit <message-id> <text>")
		}
		return ctrl.EditMessage(ctx, id, text)
	case "/rm":
		return ctrl.DeleteMessage(ctx, rest)
	case "/older":
		more, err := ctrl.FetchOlder(ctx)
		if err == nil {
			fmt.Println("has more:", more)
		}
		return err
	case "/members":
		page, err := ctrl.Members(ctx, 1)
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			fmt.Printf("  %s  %s (%s)\n", m.UserID, m.DisplayName, m.Role)
		}
	case "/quit":
	default:
		printMessages(ctrl)
	}
	return nil
}

func printMessages(ctrl *session.Controller) {
	msgs := ctrl.Messages()
	if msgs == nil {
		fmt.Println("no chat open")
		return
	}
	for _, e := range msgs.Snapshot() {
		body := e.Message.Content
		if e.Message.IsDeleted {
			body = "(deleted)"
		}
		marker := ""
		if e.State != domain.MessageStateConfirmed {
			marker = " [" + string(e.State) + "]"
		}
		fmt.Printf("  %s%s: %s\n", e.Message.ID, marker, body)
	}
}
