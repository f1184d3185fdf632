package channels

import (
	"context"
	"time"

	"github.com/dteixeira/mmbridge/pkg/media"
)

// InboundMessage is a platform event normalized by an adapter: plain text,
// downloaded media and the platform-native message id to thread replies on.
type InboundMessage struct {
	ChannelName    string
	ConversationID string
	PeerID         string
	Text           string
	Media          []media.Reference
	ReplyTargetID  string
	Timestamp      time.Time
}

// OutboundMessage is what the conversation loop hands back to an adapter.
// ReplyTargetID, when set, refers to the inbound platform message id this
// message answers.
type OutboundMessage struct {
	ConversationID string
	Text           string
	Media          []media.Reference
	ReplyTargetID  string
}

// ChannelCaps describes the static delivery capabilities of a platform.
type ChannelCaps struct {
	ThreadedReply          bool
	RequiresPublicMediaURL bool
	PassiveReplySeq        bool
	MaxAttachments         int
}

type Adapter interface {
	Name() string

	Start(ctx context.Context) error

	Stop(ctx context.Context) error

	// Send delivers one outbound message, applying the platform's
	// composition and degradation rules. Content is never silently
	// dropped; undeliverable media is substituted with a notice.
	Send(ctx context.Context, msg OutboundMessage) error

	Receive() <-chan InboundMessage

	Capabilities() ChannelCaps
}
