package channel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"flatshare/internal/bus"
	"flatshare/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestCLI_PublishesLinesUntilQuit(t *testing.T) {
	b := bus.New(bus.Config{Logger: testLogger()})
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("I bought a treadmill\n\n/quit\nnever sent\n"), Out: out})

	if err := c.Start(context.Background(), b); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case msg := <-b.Subscribe():
		if msg.Channel != "cli" || msg.Content != "I bought a treadmill" || msg.SenderID != domain.UserSpeaker {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
	select {
	case msg := <-b.Subscribe():
		t.Fatalf("published after /quit: %+v", msg)
	default:
	}
}

func TestCLI_StopsOnCancel(t *testing.T) {
	b := bus.New(bus.Config{Logger: testLogger()})
	r, w := io.Pipe()
	defer w.Close()
	c := NewCLI(CLIConfig{Logger: testLogger(), In: r, Out: &syncBuffer{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, b) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("CLI did not stop")
	}
}

func TestCLI_RenderWholeLinesAndNotices(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), Out: out})

	c.render(domain.OutboundMessage{Speaker: "Ava", Content: "Nice treadmill. Great coat rack."})
	c.render(domain.OutboundMessage{Content: "Turn 3", Notice: true})

	got := out.String()
	if !strings.Contains(got, "Ava: Nice treadmill. Great coat rack.\n") {
		t.Fatalf("missing persona line in %q", got)
	}
	if !strings.Contains(got, "* Turn 3\n") {
		t.Fatalf("missing notice in %q", got)
	}
}

func TestCLI_RenderStream(t *testing.T) {
	out := &syncBuffer{}
	c := NewCLI(CLIConfig{Logger: testLogger(), Out: out})
	send := func(speaker, persona string, typ domain.StreamEventType, content string) {
		c.render(domain.OutboundMessage{Speaker: speaker, StreamEvent: &domain.StreamEvent{Type: typ, PersonaID: persona, Content: content}})
	}

	send("Ava", "ava", domain.StreamFragment, "Bold ")
	send("Ava", "ava", domain.StreamFragment, "move.")
	send("Ava", "ava", domain.StreamDone, "Bold move.")
	send("Ben", "ben", domain.StreamFragment, "Your ")
	send("Ben", "ben", domain.StreamDone, "Let's keep it classy.")

	got := out.String()
	if strings.Count(got, "Bold move.") != 1 {
		t.Fatalf("streamed line repeated: %q", got)
	}
	if !strings.Contains(got, "Ben: Your \nBen: Let's keep it classy.\n") {
		t.Fatalf("replaced line not printed in full: %q", got)
	}
}
