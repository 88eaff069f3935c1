package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"flatshare/internal/domain"
)

const cliPrompt = "You> "

// CLI is an interactive terminal front end.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	mu        sync.Mutex // guards out and the stream state below
	streaming string     // persona currently streaming
	streamed  strings.Builder

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	spinner   bool
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx ends.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.render)

	c.write("Welcome to the flat. Say something; /help lists commands, /quit leaves.\n" + cliPrompt)

	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			switch line {
			case "":
				c.write(cliPrompt)
				continue
			case "/quit", "/exit", "/q":
				c.logger.Info("user left the flat")
				return nil
			}
			c.startThinking()
			c.bus.Publish(domain.InboundMessage{
				Channel:   c.Name(),
				ChatID:    "direct",
				SenderID:  domain.UserSpeaker,
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}
}

// render prints one outbound message. Streamed lines are printed as their
// fragments arrive; when the final text differs from what was streamed
// (a blocked or backup line), the final text is printed in full.
func (c *CLI) render(msg domain.OutboundMessage) {
	c.stopThinking()
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := msg.StreamEvent
	switch {
	case msg.Notice:
		fmt.Fprintf(c.out, "\r\033[K* %s\n%s", msg.Content, cliPrompt)
	case ev == nil:
		fmt.Fprintf(c.out, "\r\033[K%s: %s\n%s", msg.Speaker, msg.Content, cliPrompt)
	case ev.Type == domain.StreamFragment:
		if c.streaming != ev.PersonaID {
			c.streaming = ev.PersonaID
			c.streamed.Reset()
			fmt.Fprintf(c.out, "\r\033[K%s: ", msg.Speaker)
		}
		c.streamed.WriteString(ev.Content)
		fmt.Fprint(c.out, ev.Content)
	case ev.Type == domain.StreamDone:
		switch {
		case c.streaming != ev.PersonaID:
			fmt.Fprintf(c.out, "\r\033[K%s: %s\n", msg.Speaker, ev.Content)
		case strings.TrimSpace(c.streamed.String()) != ev.Content:
			fmt.Fprintf(c.out, "\n%s: %s\n", msg.Speaker, ev.Content)
		default:
			fmt.Fprintln(c.out)
		}
		c.streaming = ""
		c.streamed.Reset()
		fmt.Fprint(c.out, cliPrompt)
	}
}

func (c *CLI) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.write(fmt.Sprintf("\r%s the flat is thinking...", frames[i%len(frames)]))
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op; the CLI exits when Start returns.
func (c *CLI) Stop() error { return nil }

var _ domain.Channel = (*CLI)(nil)
