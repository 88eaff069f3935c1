package engine

import (
	"context"
	"errors"
	"time"

	"flatshare/internal/domain"
)

const unavailableNotice = "The flat has gone quiet: the generator keeps failing. Those were canned lines."

// Run consumes utterances from the bus until ctx ends or the bus closes,
// answering each on the channel it came from. With an initiate interval,
// the flat also starts banter on its own, delivered to the last channel a
// user spoke on.
func (e *Engine) Run(ctx context.Context) error {
	if e.bus == nil {
		return errors.New("engine: no message bus configured")
	}
	inbound := e.bus.Subscribe()

	var tick <-chan time.Time
	if e.cfg.InitiateInterval > 0 {
		t := time.NewTicker(e.cfg.InitiateInterval)
		defer t.Stop()
		tick = t.C
	}
	e.logger.Info("engine loop started", "initiate_interval", e.cfg.InitiateInterval)

	var last *domain.InboundMessage
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopping")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				e.logger.Info("inbound channel closed, engine loop stopping")
				return nil
			}
			last = &msg
			e.process(ctx, msg)
		case <-tick:
			if last == nil {
				continue
			}
			res, err := e.initiate(ctx, e.sinkFor(*last))
			e.deliver(*last, res, err, e.cfg.Stream)
		}
	}
}

// process answers one inbound message.
func (e *Engine) process(ctx context.Context, msg domain.InboundMessage) {
	e.logger.Info("processing utterance",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)
	if cmd := ParseCommand(msg.Content); cmd != nil {
		if r := e.HandleCommand(ctx, cmd); r.Handled {
			if r.Response != "" {
				e.bus.SendOutbound(commandReply(msg, r.Response))
			}
			if r.Turn != nil {
				e.deliver(msg, r.Turn, nil, false)
			}
			return
		}
	}

	res, err := e.Turn(ctx, msg.Utterance(), e.sinkFor(msg))
	if err != nil && res == nil {
		if ctx.Err() == nil {
			e.logger.Error("turn failed", "err", err)
			e.bus.SendOutbound(commandReply(msg, "Nobody heard that: "+err.Error()))
		}
		return
	}
	e.deliver(msg, res, err, e.cfg.Stream)
}

// sinkFor streams fragments back to msg's channel when streaming is on.
func (e *Engine) sinkFor(msg domain.InboundMessage) StreamFunc {
	if !e.cfg.Stream {
		return nil
	}
	return func(ev domain.StreamEvent) {
		e.bus.SendOutbound(domain.OutboundMessage{
			Channel:     msg.Channel,
			ChatID:      msg.ChatID,
			Speaker:     e.displayName(ev.PersonaID),
			StreamEvent: &ev,
		})
	}
}

// deliver sends a committed turn unless its sink already streamed it.
func (e *Engine) deliver(to domain.InboundMessage, res *TurnResult, err error, streamed bool) {
	if res != nil && !streamed {
		for _, r := range res.Responses {
			e.bus.SendOutbound(domain.OutboundMessage{
				Channel: to.Channel,
				ChatID:  to.ChatID,
				Speaker: r.Name,
				Content: r.Text,
			})
		}
	}
	if errors.Is(err, ErrServiceUnavailable) {
		e.bus.SendOutbound(commandReply(to, unavailableNotice))
	} else if err != nil {
		e.logger.Warn("turn ended with error", "err", err)
	}
}
