package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/session"
	"github.com/nats-io/nats.go"
)

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func runWatch(args []string) error {
	opts := parseArgs(args)
	url := opts["nats"]
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if url == "" {
		url = "nats://localhost:4222"
	}

	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watch(ctx, client, opts["session"], os.Stdout); err != nil {
		return err
	}
	return nil
}

// watch prints bus traffic for one session (or all when sessionID is empty)
// until ctx is cancelled.
func watch(ctx context.Context, client *natsbus.Client, sessionID string, w io.Writer) error {
	topic := natsbus.TopicEventsAll
	if sessionID != "" {
		topic = natsbus.TopicSession(sessionID)
	}

	lines := make(chan string, 64)
	sub, err := client.Subscribe(topic, func(msg *nats.Msg) {
		select {
		case lines <- paint(msg.Subject, formatMessage(msg)):
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer sub.Unsubscribe()
	if err := client.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(w, line)
		}
	}
}

func formatMessage(msg *nats.Msg) string {
	var line natsbus.LineEvent
	if err := json.Unmarshal(msg.Data, &line); err == nil && line.Line != "" {
		return fmt.Sprintf("[agent %d] %s", line.AgentID, line.Line)
	}
	var ev session.Event
	if err := json.Unmarshal(msg.Data, &ev); err == nil && ev.Type != "" {
		s := fmt.Sprintf("[event] %s request=%d", ev.Type, ev.RequestID)
		if ev.AgentID != 0 {
			s += fmt.Sprintf(" agent=%d", ev.AgentID)
		}
		return s
	}
	return fmt.Sprintf("[%s] %s", msg.Subject, msg.Data)
}

func paint(subject, line string) string {
	switch {
	case strings.Contains(subject, ".agent."):
		return color.CyanString(line)
	case strings.Contains(line, string(session.EventSessionEnded)):
		return color.New(color.FgYellow, color.Bold).Sprint(line)
	default:
		return color.GreenString(line)
	}
}
