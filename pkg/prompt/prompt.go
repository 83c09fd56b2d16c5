package prompt

import (
	"errors"
)

// ErrPromptUnavailable means no prompt is scheduled for today. Callers render a
// "check back later" state and do not retry.
var ErrPromptUnavailable = errors.New("no prompt available today")

// FallbackPrompt is served when the rotation is empty.
const FallbackPrompt = "Write about a moment of pure, unexpected happiness."

// DefaultRotation mirrors the prompts the service launched with.
var DefaultRotation = []string{
	"Describe a color you've never seen.",
	"What does 'home' smell like after a long journey?",
	"If silence had a sound, what would it be?",
	"Write about a door that only appears at midnight.",
	"The most important lesson a tree could teach us.",
	"What if your shadow had a life of its own?",
	"Describe the taste of joy.",
	"A conversation between the moon and the sea.",
	"The secret life of a forgotten toy.",
	"What would you write on a message in a bottle today?",
}
