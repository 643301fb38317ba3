package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/soratobu/chatstream/internal/api"
	"github.com/soratobu/chatstream/internal/config"
	"github.com/soratobu/chatstream/internal/domain"
	"github.com/soratobu/chatstream/internal/session"
	"github.com/soratobu/chatstream/internal/token"
	"github.com/soratobu/chatstream/pkg/log"
)

func main() {
	godotenv.Load()

	channelID := flag.String("channel", "", "channel to join; empty lists your channels")
	tokenFlag := flag.String("token", os.Getenv("CHAT_TOKEN"), "bearer token (defaults to CHAT_TOKEN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	log.Init(cfg.Log)

	tokens := token.StaticProvider(*tokenFlag)

	client, err := api.NewClient(cfg.API.BaseURL, cfg.API.APIKey, tokens)
	if err != nil {
		stdlog.Fatalf("Failed to create API client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *channelID == "" {
		listChannels(ctx, client)
		return
	}

	subject, err := token.Subject(*tokenFlag)
	if err != nil {
		stdlog.Fatalf("Failed to read token subject: %v", err)
	}

	displayName, err := client.ChannelAccess(ctx, *channelID)
	if err != nil {
		if errors.Is(err, api.ErrChannelAccess) {
			stdlog.Fatalf("No access to channel %s", *channelID)
		}
		stdlog.Fatalf("Failed to check channel access: %v", err)
	}
	fmt.Printf("-- %s --\n", displayName)

	sess := session.New(session.Config{
		Endpoint:             cfg.WebSocket.Endpoint,
		ChannelID:            *channelID,
		PageSize:             cfg.Session.PageSize,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ReconnectBase:        cfg.Session.ReconnectBase,
		ReconnectCap:         cfg.Session.ReconnectCap,
		ReconnectJitter:      cfg.Session.ReconnectJitter,
		PingInterval:         cfg.WebSocket.PingInterval,
		WriteWait:            cfg.WebSocket.WriteWait,
	}, tokens, client, client,
		session.WithLogger(log.L()),
		session.WithMessageHandler(func(msg domain.Message) {
			printMessage(msg, subject)
		}),
		session.WithStateHandler(func(st session.State) {
			if st == session.StateGivenUp {
				fmt.Println("!! connection lost for good, restart to retry")
			}
		}),
	)

	if err := sess.Connect(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Msg("initial connect failed, retrying in background")
	}
	defer sess.Close()

	// Ctrl+C closes the session cleanly.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sess.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/history":
			for _, msg := range sess.Window().Messages() {
				printMessage(msg, subject)
			}
		case "/more":
			if sess.Window().LoadMore(ctx) {
				fmt.Printf("window now holds %d messages\n", sess.Window().Len())
			}
		default:
			if err := sess.Send(line, subject); err != nil {
				fmt.Println("!! not connected, message dropped")
			}
		}
	}
}

func listChannels(ctx context.Context, client *api.Client) {
	resp, err := client.ListChannels(ctx)
	if err != nil {
		stdlog.Fatalf("Failed to list channels: %v", err)
	}
	for _, ch := range resp.Channels {
		fmt.Printf("%s\t%s\t%s\n", ch.ChannelID, ch.DisplayName, ch.LatestMessageContent)
	}
}

func printMessage(msg domain.Message, self string) {
	name := msg.UserID
	if name == self {
		name = "me"
	}
	fmt.Printf("[%s] %s: %s\n", msg.Timestamp, name, msg.Content)
	if msg.TranslateContent != "" {
		fmt.Printf("    (%s)\n", msg.TranslateContent)
	}
}
