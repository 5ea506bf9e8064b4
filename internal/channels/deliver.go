package channels

import (
	"context"
	"fmt"
)

// DeliverOptions configures DeliverReplies.
type DeliverOptions struct {
	TextLimit int
	MaxBytes  int64
	AccountID string
	Limiter   *SendLimiter
}

// DeliverReplies sends one payload to target. Media payloads produce one send
// per URL with the text as caption on the first only; text payloads are
// chunked to TextLimit and sent sequentially. The first failing send aborts
// the payload.
func DeliverReplies(ctx context.Context, s Sender, target string, p ReplyPayload, opts DeliverOptions) error {
	if p.IsEmpty() {
		return nil
	}

	send := func(text, media string) error {
		if err := opts.Limiter.Wait(ctx, target); err != nil {
			return err
		}
		return s.Send(ctx, target, text, SendOptions{
			MediaURL:  media,
			MaxBytes:  opts.MaxBytes,
			AccountID: opts.AccountID,
		})
	}

	media := p.Media()
	if len(media) == 0 {
		chunks := ChunkText(p.Text, opts.TextLimit)
		for i, chunk := range chunks {
			if err := send(chunk, ""); err != nil {
				return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
			}
		}
		return nil
	}

	for i, url := range media {
		caption := ""
		if i == 0 {
			caption = p.Text
		}
		if err := send(caption, url); err != nil {
			return fmt.Errorf("send media %d/%d: %w", i+1, len(media), err)
		}
	}
	return nil
}
