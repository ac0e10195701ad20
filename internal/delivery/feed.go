package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/types"
)

const replyMarker = ":reply:"

// rejected reports a refusal the queue should not keep retrying.
func rejected(err error) bool {
	return errors.Is(err, types.ErrRejected)
}

// FeedHandler publishes to the tracked feed through the account's request
// queue. "feed" posts new items; "feed:reply:<id>" replies to item <id>.
// A post the source rejects is returned at once rather than held at the
// front of the lane.
func FeedHandler(q *gateway.Queue, source types.ItemSource) Handler {
	return func(ctx context.Context, target, text string) (*types.Item, error) {
		if i := strings.Index(target, replyMarker); i >= 0 {
			inReplyTo := target[i+len(replyMarker):]
			if inReplyTo == "" {
				return nil, fmt.Errorf("reply target without item id: %s", target)
			}
			replier, ok := source.(types.Replier)
			if !ok {
				return nil, fmt.Errorf("source cannot reply to items")
			}
			return gateway.DoSettled(ctx, q, func(ctx context.Context) (*types.Item, error) {
				return replier.Reply(ctx, inReplyTo, text)
			}, rejected, gateway.WithName("reply to "+inReplyTo))
		}

		poster, ok := source.(types.Poster)
		if !ok {
			return nil, fmt.Errorf("source cannot post items")
		}
		return gateway.DoSettled(ctx, q, func(ctx context.Context) (*types.Item, error) {
			return poster.Post(ctx, text)
		}, rejected, gateway.WithName("post"))
	}
}
