package core

import "context"

// TitleService produces a short conversation title from the first exchange.
// It is best-effort: implementations return ("", nil) when no usable title
// could be produced, and callers treat any error as "no title". A failure
// must never affect the owning session.
type TitleService interface {
	GenerateTitle(ctx context.Context, userText, assistantText string) (string, error)
}
