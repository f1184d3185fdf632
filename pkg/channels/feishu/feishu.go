package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dteixeira/mmbridge/pkg/channels"
	"github.com/dteixeira/mmbridge/pkg/media"
	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

const maxTextLen = 4000

// Adapter bridges Feishu. Inbound events arrive over the event webhook;
// outbound messages go through the open API. Feishu embeds images by
// reference (image_key) inside rich-text documents and supports true
// threaded replies, so no public media host is needed.
type Adapter struct {
	cfg     Config
	api     *client
	cache   *media.Store
	inbound chan channels.InboundMessage
	convs   *channels.ConversationMap[string]
	dedup   *channels.Dedup
	logger  *slog.Logger
}

type Config struct {
	AppID             string
	AppSecret         string
	VerificationToken string
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

func New(cfg Config, cache *media.Store, logger *slog.Logger) (*Adapter, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("feishu: app_id and app_secret required")
	}
	if logger == nil {
		logger = telemetry.Component("feishu")
	}
	return &Adapter{
		cfg:     cfg,
		api:     newClient(cfg.BaseURL, cfg.AppID, cfg.AppSecret),
		cache:   cache,
		inbound: make(chan channels.InboundMessage, 256),
		convs:   channels.NewConversationMap[string]("fs", func(k string) string { return k }),
		dedup:   channels.NewDedup(1000),
		logger:  logger,
	}, nil
}

func (a *Adapter) Name() string { return "feishu" }

func (a *Adapter) Start(ctx context.Context) error {
	a.logger.Info("feishu adapter started (webhook mode)")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	return nil
}

func (a *Adapter) Receive() <-chan channels.InboundMessage {
	return a.inbound
}

func (a *Adapter) Capabilities() channels.ChannelCaps {
	return channels.ChannelCaps{
		ThreadedReply:          true,
		RequiresPublicMediaURL: false,
		PassiveReplySeq:        false,
		MaxAttachments:         10,
	}
}

type eventEnvelope struct {
	Challenge string `json:"challenge"`
	Type      string `json:"type"`
	Token     string `json:"token"`
	Header    struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
			CreateTime  string `json:"create_time"`
		} `json:"message"`
	} `json:"event"`
}

// WebhookHandler serves the Feishu event subscription endpoint, including
// the url_verification challenge handshake.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		var env eventEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		if env.Type == "url_verification" {
			if a.cfg.VerificationToken != "" && env.Token != a.cfg.VerificationToken {
				http.Error(w, "token mismatch", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
			return
		}

		if a.cfg.VerificationToken != "" && env.Header.Token != a.cfg.VerificationToken {
			http.Error(w, "token mismatch", http.StatusForbidden)
			return
		}

		w.WriteHeader(http.StatusOK)

		if env.Header.EventType != "im.message.receive_v1" {
			return
		}
		if a.dedup.Seen(env.Header.EventID) {
			return
		}

		go a.handleMessageEvent(r.Context(), env)
	})
}

func (a *Adapter) handleMessageEvent(ctx context.Context, env eventEnvelope) {
	// Detach from the request context; normalization outlives the webhook
	// response we already sent.
	ctx = context.WithoutCancel(ctx)

	msg := env.Event.Message
	in, err := a.normalizeInbound(ctx, env)
	if err != nil {
		a.logger.Error("failed to normalize feishu event",
			slog.String("message_id", msg.MessageID),
			slog.String("err", err.Error()),
		)
		telemetry.Metrics.ErrorsTotal.WithLabelValues("feishu").Inc()
		return
	}
	if in.Text == "" && len(in.Media) == 0 {
		return
	}

	a.inbound <- in
}

func (a *Adapter) normalizeInbound(ctx context.Context, env eventEnvelope) (channels.InboundMessage, error) {
	msg := env.Event.Message

	in := channels.InboundMessage{
		ChannelName:    "feishu",
		ConversationID: a.convs.GetOrCreate(msg.ChatID),
		PeerID:         env.Event.Sender.SenderID.OpenID,
		ReplyTargetID:  msg.MessageID,
		Timestamp:      parseCreateTime(msg.CreateTime),
	}

	switch msg.MessageType {
	case "text":
		var content struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
			return in, fmt.Errorf("parsing text content: %w", err)
		}
		in.Text = strings.TrimSpace(content.Text)

	case "image":
		var content struct {
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
			return in, fmt.Errorf("parsing image content: %w", err)
		}
		if ref, ok := a.fetchImage(ctx, msg.MessageID, content.ImageKey); ok {
			in.Media = append(in.Media, ref)
		}

	case "post":
		post, err := parsePost([]byte(msg.Content))
		if err != nil {
			return in, fmt.Errorf("parsing post content: %w", err)
		}
		in.Text = post.Text
		for _, key := range post.ImageKeys {
			if ref, ok := a.fetchImage(ctx, msg.MessageID, key); ok {
				in.Media = append(in.Media, ref)
			}
		}

	default:
		a.logger.Debug("ignoring unsupported feishu message type",
			slog.String("type", msg.MessageType),
		)
	}

	return in, nil
}

// fetchImage downloads one embedded image into the media cache. Failures
// drop the item; the turn proceeds without it.
func (a *Adapter) fetchImage(ctx context.Context, messageID, imageKey string) (media.Reference, bool) {
	if imageKey == "" {
		return media.Reference{}, false
	}

	data, err := a.api.downloadResource(ctx, messageID, imageKey, "image")
	if err != nil {
		a.logger.Warn("feishu image download failed",
			slog.String("image_key", imageKey),
			slog.String("err", err.Error()),
		)
		telemetry.Metrics.MediaFetchesTotal.WithLabelValues("feishu", "error").Inc()
		return media.Reference{}, false
	}

	ref, err := a.cache.Put(data, "feishu_"+imageKey+".png", imageKey)
	if err != nil {
		a.logger.Warn("feishu image cache write failed",
			slog.String("image_key", imageKey),
			slog.String("err", err.Error()),
		)
		telemetry.Metrics.MediaFetchesTotal.WithLabelValues("feishu", "error").Inc()
		return media.Reference{}, false
	}

	telemetry.Metrics.MediaFetchesTotal.WithLabelValues("feishu", "ok").Inc()
	return ref, true
}

// Send composes text and images into a single interactive card when both
// are present; if the card call fails it falls back to sequential sends
// (images first, then text) rather than dropping either.
func (a *Adapter) Send(ctx context.Context, msg channels.OutboundMessage) error {
	chatID, ok := a.convs.Reverse(msg.ConversationID)
	if !ok {
		return fmt.Errorf("feishu: no chat for conversation %s", msg.ConversationID)
	}

	text := strings.TrimSpace(msg.Text)
	imageKeys, notices := a.uploadImages(ctx, msg.Media)
	if len(notices) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(notices, "\n"))
	}

	if text == "" && len(imageKeys) == 0 {
		return nil
	}

	if text != "" && len(imageKeys) > 0 {
		card := cardContent(text, imageKeys)
		err := a.api.sendMessage(ctx, chatID, msg.ReplyTargetID, "interactive", card)
		if err == nil {
			return nil
		}
		a.logger.Warn("feishu card send failed, falling back to sequential sends",
			slog.String("err", err.Error()),
		)
		telemetry.Metrics.DegradedDeliveries.WithLabelValues("feishu", "card_failed").Inc()
	}

	for _, key := range imageKeys {
		content, _ := json.Marshal(map[string]string{"image_key": key})
		if err := a.api.sendMessage(ctx, chatID, msg.ReplyTargetID, "image", string(content)); err != nil {
			return fmt.Errorf("feishu: sending image: %w", err)
		}
	}

	for _, chunk := range channels.SplitMessage(text, maxTextLen) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		content, _ := json.Marshal(map[string]string{"text": chunk})
		if err := a.api.sendMessage(ctx, chatID, msg.ReplyTargetID, "text", string(content)); err != nil {
			return fmt.Errorf("feishu: sending text: %w", err)
		}
	}

	return nil
}

// uploadImages resolves outbound image references to image keys. Non-image
// media and failed uploads become user-visible notices instead of being
// dropped silently.
func (a *Adapter) uploadImages(ctx context.Context, refs []media.Reference) (keys []string, notices []string) {
	for _, ref := range refs {
		if ref.Kind != media.KindImage {
			notices = append(notices, "（该类型附件暂不支持在飞书发送）")
			continue
		}
		if ref.PlatformHandle != "" {
			keys = append(keys, ref.PlatformHandle)
			continue
		}
		if ref.LocalPath == "" {
			notices = append(notices, "（图片不可用，已跳过）")
			continue
		}

		data, err := os.ReadFile(ref.LocalPath)
		if err != nil {
			a.logger.Warn("feishu outbound image unreadable",
				slog.String("path", ref.LocalPath),
				slog.String("err", err.Error()),
			)
			notices = append(notices, "（图片不可用，已跳过）")
			continue
		}

		key, err := a.api.uploadImage(ctx, ref.LocalPath, data)
		if err != nil {
			a.logger.Warn("feishu image upload failed",
				slog.String("path", ref.LocalPath),
				slog.String("err", err.Error()),
			)
			telemetry.Metrics.DegradedDeliveries.WithLabelValues("feishu", "upload_failed").Inc()
			notices = append(notices, "（图片发送失败）")
			continue
		}
		keys = append(keys, key)
	}
	return keys, notices
}

func parseCreateTime(ms string) time.Time {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.UnixMilli(n).UTC()
}
