package strategy

import (
	"strings"

	"flatshare/internal/domain"
)

var backupLines = map[Strategy][]string{
	Aggressive: {
		"I'd roast {target} properly but I'm saving my energy for someone who'd notice.",
		"{target}, you're the reason the group chat has a mute button.",
		"Even the mold in the fridge has more ambition than {target}.",
	},
	PassiveAggressive: {
		"No, it's fine, {target}. Really. I'll just do it myself. Again.",
		"Wow {target}, that's such a brave choice. Truly.",
		"I'm sure {target} meant well. They usually do.",
	},
	Witty: {
		"{target}, you have the energy of a loading bar at 99 percent.",
		"If overthinking burned calories, {target} would be a supermodel.",
		"{target}'s plans are like our Wi-Fi: great in theory, missing in practice.",
	},
	Absurd: {
		"{target} once tried to microwave a salad and called it fusion.",
		"A pigeon filed a noise complaint about {target}. The pigeon was right.",
		"{target} is what happens when a Monday learns to talk.",
	},
	Cultural: {
		"Beta {target}, log kya kahenge?",
		"{target}, even Sharma ji's goldfish has a better five year plan.",
		"Your parents did not raise you for this, {target}.",
	},
}

// Backup returns a pre-authored line for when generation fails. The
// persona's own lines are preferred; the choice depends only on turn so the
// same turn always gets the same line.
func Backup(p domain.Persona, st Strategy, target string, turn int) string {
	lines := p.BackupLines
	if len(lines) == 0 {
		lines = backupLines[st]
	}
	if len(lines) == 0 {
		lines = backupLines[Witty]
	}
	if turn < 0 {
		turn = -turn
	}
	line := lines[turn%len(lines)]
	return strings.ReplaceAll(line, "{target}", target)
}
