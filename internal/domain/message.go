package domain

import "time"

// InboundMessage is an utterance arriving from a front end.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// Utterance converts the message into the engine's input form. Whoever
// sent it, inside the flat they are the user.
func (m InboundMessage) Utterance() Utterance {
	return Utterance{Speaker: UserSpeaker, Text: m.Content, Timestamp: m.Timestamp}
}

// OutboundMessage carries one persona response (or a fragment of it) back to
// the channel that sent the utterance.
type OutboundMessage struct {
	Channel     string
	ChatID      string
	Speaker     string
	Content     string
	Notice      bool         // system notice rather than a persona line
	StreamEvent *StreamEvent // set for incremental delivery
}
