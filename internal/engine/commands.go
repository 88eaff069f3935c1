package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flatshare/internal/domain"
	"flatshare/internal/strategy"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// CommandResult is the reply to a handled command.
type CommandResult struct {
	Response string
	Handled  bool
	Turn     *TurnResult // set by /banter
}

// ParseCommand parses text starting with "/" and returns nil otherwise.
func ParseCommand(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &Command{Name: name, Args: parts[1:], Raw: text}
}

// HandleCommand answers a command. Unknown commands are not handled, so
// the text can go through as an ordinary utterance.
func (e *Engine) HandleCommand(ctx context.Context, cmd *Command) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: helpText, Handled: true}
	case "status":
		return CommandResult{Response: e.statusText(), Handled: true}
	case "personas":
		return CommandResult{Response: e.personasText(), Handled: true}
	case "mood":
		return CommandResult{Response: e.moodText(cmd.Args), Handled: true}
	case "relationships", "rel":
		return CommandResult{Response: e.relationshipsText(), Handled: true}
	case "strategies":
		return CommandResult{Response: e.strategiesText(), Handled: true}
	case "forget":
		return CommandResult{Response: e.forget(cmd.Args), Handled: true}
	case "banter":
		res, err := e.Initiate(ctx)
		switch {
		case err != nil:
			return CommandResult{Response: fmt.Sprintf("Banter failed: %v", err), Handled: true, Turn: res}
		case res == nil:
			return CommandResult{Response: "Nobody feels like starting anything.", Handled: true}
		}
		return CommandResult{Handled: true, Turn: res}
	default:
		return CommandResult{}
	}
}

const helpText = `Commands

/help           this message
/status         turn count, generator and pending feedback
/personas       who lives here
/mood [id]      current moods
/relationships  how everyone gets on
/strategies     what each persona has been trying
/forget <age>   drop memories older than age (30m, 2h; bare numbers are minutes)
/banter         let the flat talk among themselves`

func (e *Engine) statusText() string {
	s := e.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d\n", s.Turn)
	fmt.Fprintf(&b, "Generator: %s\n", s.Generator)
	fmt.Fprintf(&b, "Pending feedback: %d\n", s.Pending)
	if s.FailureStreak > 0 {
		fmt.Fprintf(&b, "Failed turns in a row: %d\n", s.FailureStreak)
	}
	return b.String()
}

func (e *Engine) personasText() string {
	var b strings.Builder
	for _, p := range e.cast {
		fmt.Fprintf(&b, "%s (%s) spice %d, prefers %s\n", p.Name, p.ID, p.Spice, p.PreferredStrategy)
	}
	return b.String()
}

func (e *Engine) moodText(args []string) string {
	s := e.Snapshot()
	var b strings.Builder
	for _, p := range s.Personas {
		if len(args) > 0 && !strings.EqualFold(args[0], p.ID) {
			continue
		}
		fmt.Fprintf(&b, "%s: %d/100 (%s, baseline %d)\n", p.Name, p.Mood, p.MoodLabel, p.Baseline)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No persona %q.", args[0])
	}
	return b.String()
}

func (e *Engine) relationshipsText() string {
	s := e.Snapshot()
	var b strings.Builder
	for _, r := range s.Relationships {
		fmt.Fprintf(&b, "%s / %s: %d (%s)\n", e.displayName(r.A), e.displayName(r.B), r.Score, r.Status)
	}
	return b.String()
}

func (e *Engine) strategiesText() string {
	s := e.Snapshot()
	var b strings.Builder
	for _, p := range s.Personas {
		fmt.Fprintf(&b, "%s: %s\n", p.Name, formatStats(p))
	}
	return b.String()
}

// forget drops every memory older than the given age, the shared thread
// included. It waits for any turn in flight.
func (e *Engine) forget(args []string) string {
	if len(args) == 0 {
		return "Usage: /forget <age>, e.g. /forget 30m"
	}
	age, err := parseAge(args[0])
	if err != nil || age <= 0 {
		return fmt.Sprintf("Cannot read %q as an age.", args[0])
	}

	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	cutoff := e.now().Add(-age)
	removed := 0
	for _, log := range e.memory.Personas() {
		removed += e.memory.Forget(log, cutoff)
	}
	e.logger.Info("memories forgotten", "older_than", age, "removed", removed)
	return fmt.Sprintf("Forgot %d memories older than %s.", removed, age)
}

func parseAge(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	return time.ParseDuration(s)
}

func formatStats(p PersonaView) string {
	if len(p.Strategy.Strategies) == 0 {
		return "nothing tried yet"
	}
	parts := make([]string, 0, len(p.Strategy.Strategies))
	for _, name := range strategy.All {
		if st, ok := p.Strategy.Strategies[name]; ok {
			parts = append(parts, fmt.Sprintf("%s x%d avg %.2f", name, st.Uses, st.Mean))
		}
	}
	return strings.Join(parts, ", ")
}

// commandReply is the outbound form of a command result.
func commandReply(msg domain.InboundMessage, text string) domain.OutboundMessage {
	return domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: strings.TrimRight(text, "\n"), Notice: true}
}
