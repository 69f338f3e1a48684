package share

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// Sharer hands the celebration message to other applications
type Sharer interface {
	Copy(ctx context.Context, text string) error
}

type clipboardSharer struct {
	write func(string) error
}

// New creates a clipboard-backed Sharer
func New() Sharer {
	return &clipboardSharer{write: clipboard.WriteAll}
}

func (c *clipboardSharer) Copy(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

// Celebration is the message copied once the candle is out.
func Celebration(wishes int) string {
	if wishes <= 1 {
		return "🎂 I made a wish and blew out the candle! 🎉"
	}
	return fmt.Sprintf("🎂 I made %d wishes and blew out the candle! 🎉", wishes)
}
