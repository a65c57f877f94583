// Package titler implements the title-generation collaborator on top of any
// execution engine: a one-shot connect/prompt/collect/disconnect cycle that
// condenses the first exchange of a conversation into a short title. It is
// best-effort by contract; callers treat errors and empty results as "no
// title".
package titler

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/parleyhq/parley/core"
)

const titleInstructions = "Generate a short title (at most six words) for the conversation excerpt you are given. Reply with the title only: no quotes, no punctuation at the end."

// maxExcerptLen bounds how much of each message is sent to the engine.
const maxExcerptLen = 500

// maxTitleLen truncates runaway model output.
const maxTitleLen = 80

// Options configures the engine-backed titler.
type Options struct {
	// Model used for title generation; empty selects the engine's default.
	Model string
}

// EngineTitler is a core.TitleService backed by a core.Engine.
type EngineTitler struct {
	engine core.Engine
	opts   Options
}

// New constructs an EngineTitler.
func New(engine core.Engine, optFns ...func(o *Options)) *EngineTitler {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &EngineTitler{engine: engine, opts: opts}
}

// GenerateTitle produces a short title from the first exchange, or ("", nil)
// when the engine declined to produce one.
func (t *EngineTitler) GenerateTitle(ctx context.Context, userText, assistantText string) (string, error) {
	// Releases the engine-side producer if the stream is abandoned early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle, err := t.engine.Connect(ctx, core.EngineConfig{
		Model:        t.opts.Model,
		SystemPrompt: titleInstructions,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = handle.Disconnect(ctx) }()

	prompt := "User: " + excerpt(userText) + "\nAssistant: " + excerpt(assistantText)
	stream, err := handle.SubmitPrompt(ctx, prompt)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for {
		u, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch v := u.(type) {
		case core.TextUnit:
			text.WriteString(v.Text)
		case core.TerminalUnit:
			if !v.Success {
				return "", nil
			}
			return cleanTitle(text.String()), nil
		}
	}
	return cleanTitle(text.String()), nil
}

func excerpt(s string) string {
	return truncate(s, maxExcerptLen)
}

func cleanTitle(s string) string {
	title := strings.TrimSpace(s)
	title = strings.Trim(title, `"'`)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(truncate(title, maxTitleLen))
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
