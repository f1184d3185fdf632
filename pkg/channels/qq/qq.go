package qq

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dteixeira/mmbridge/pkg/channels"
	"github.com/dteixeira/mmbridge/pkg/media"
	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

const maxTextLen = 4000

const (
	noticeUnsupportedType = "（QQ 附件发送受限：当前文件类型无法直接发送。QQ 官方富媒体接口仅支持图片/视频/语音，且要求公网 URL。）"
	noticeNoPublicURL     = "（QQ 附件发送失败：QQ 官方接口要求公网可访问的 URL。请配置 channels.qq.media_upload_command 将本地文件上传并输出 URL。）"
	noticeSendFailed      = "（QQ 附件发送失败，已跳过该附件。）"
)

// Adapter bridges QQ C2C messaging. Inbound events arrive over the bot
// websocket gateway; outbound rich media must first be resolved to a
// publicly reachable URL, and replies use passive (msg_id, msg_seq)
// semantics.
type Adapter struct {
	cfg      Config
	api      *client
	cache    *media.Store
	uploader *uploader
	seq      *replySeq
	inbound  chan channels.InboundMessage
	convs    *channels.ConversationMap[string]
	dedup    *channels.Dedup
	logger   *slog.Logger
}

type Config struct {
	AppID               string
	Secret              string
	MediaUploadCommand  string
	MediaUploadTimeoutS int
	// APIBase and TokenURL override the QQ endpoints, for tests.
	APIBase  string
	TokenURL string
}

func New(cfg Config, cache *media.Store, logger *slog.Logger) (*Adapter, error) {
	if cfg.AppID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("qq: app_id and secret required")
	}
	if logger == nil {
		logger = telemetry.Component("qq")
	}
	return &Adapter{
		cfg:      cfg,
		api:      newClient(cfg.APIBase, cfg.TokenURL, cfg.AppID, cfg.Secret),
		cache:    cache,
		uploader: newUploader(cfg.MediaUploadCommand, cfg.MediaUploadTimeoutS),
		seq:      newReplySeq(),
		inbound:  make(chan channels.InboundMessage, 256),
		convs:    channels.NewConversationMap[string]("qq", func(k string) string { return k }),
		dedup:    channels.NewDedup(1000),
		logger:   logger,
	}, nil
}

func (a *Adapter) Name() string { return "qq" }

func (a *Adapter) Start(ctx context.Context) error {
	go a.runGateway(ctx, a.handleMessageEvent)
	a.logger.Info("qq adapter started (C2C private message)")
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
		ThreadedReply:          false,
		RequiresPublicMediaURL: true,
		PassiveReplySeq:        true,
		MaxAttachments:         1,
	}
}

type c2cMessageEvent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  struct {
		ID         string `json:"id"`
		UserOpenID string `json:"user_openid"`
	} `json:"author"`
	Attachments []struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	} `json:"attachments"`
	Timestamp string `json:"timestamp"`
}

// handleMessageEvent normalizes one inbound C2C message: downloads every
// attachment into the media cache and surfaces a readable placeholder per
// attachment in the text, so transcripts stay legible even if the file
// later disappears.
func (a *Adapter) handleMessageEvent(ctx context.Context, ev c2cMessageEvent) {
	if a.dedup.Seen(ev.ID) {
		return
	}

	openID := ev.Author.UserOpenID
	if openID == "" {
		openID = ev.Author.ID
	}
	if openID == "" {
		return
	}

	var parts []string
	if content := strings.TrimSpace(ev.Content); content != "" {
		parts = append(parts, content)
	}

	var refs []media.Reference
	for _, att := range ev.Attachments {
		url := normalizeAttachmentURL(att.URL)
		if url == "" {
			continue
		}
		ref, err := a.cache.Fetch(ctx, url, att.Filename)
		if err != nil {
			a.logger.Warn("qq attachment download failed",
				slog.String("message_id", ev.ID),
				slog.String("err", err.Error()),
			)
			telemetry.Metrics.MediaFetchesTotal.WithLabelValues("qq", "error").Inc()
			parts = append(parts, "[attachment: download failed]")
			continue
		}
		telemetry.Metrics.MediaFetchesTotal.WithLabelValues("qq", "ok").Inc()
		refs = append(refs, ref)
		parts = append(parts, "[attachment: "+filepath.Base(ref.LocalPath)+"]")
	}

	if len(parts) == 0 && len(refs) == 0 {
		return
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		text = "[empty message]"
	}

	a.inbound <- channels.InboundMessage{
		ChannelName:    "qq",
		ConversationID: a.convs.GetOrCreate(openID),
		PeerID:         openID,
		Text:           text,
		Media:          refs,
		ReplyTargetID:  ev.ID,
		Timestamp:      parseTimestamp(ev.Timestamp),
	}
}

// resolution outcomes of the outbound media fallback chain, in the order
// the chain tries them.
type mediaOutcome int

const (
	outcomeDirectURL mediaOutcome = iota
	outcomeUploadedURL
	outcomeUnsupportedType
	outcomeNoPublicURL
)

type resolvedMedia struct {
	outcome  mediaOutcome
	url      string
	fileType int
}

// resolveMedia applies the ordered fallback policy: an already-public URL
// is used directly; otherwise a configured upload command is tried with a
// bounded timeout; otherwise the item degrades to a text notice. Upload
// errors and timeouts land in the same degraded outcome, never a turn
// failure.
func (a *Adapter) resolveMedia(ctx context.Context, ref media.Reference) resolvedMedia {
	if ref.RemoteURL != "" {
		return resolvedMedia{
			outcome:  outcomeDirectURL,
			url:      ref.RemoteURL,
			fileType: fileTypeFor(ref.Kind),
		}
	}

	if ref.LocalPath == "" || !a.cache.ResolveExisting(ref.LocalPath) {
		return resolvedMedia{outcome: outcomeNoPublicURL}
	}

	ft := fileTypeFor(media.ClassifyPath(ref.LocalPath))
	if ft == 0 {
		return resolvedMedia{outcome: outcomeUnsupportedType}
	}

	if url, ok := a.uploader.publicURL(ctx, ref.LocalPath); ok {
		return resolvedMedia{outcome: outcomeUploadedURL, url: url, fileType: ft}
	}

	return resolvedMedia{outcome: outcomeNoPublicURL}
}

// fileTypeFor maps a media kind to the QQ rich media file type; 0 means the
// kind cannot be delivered on this platform.
func fileTypeFor(kind media.Kind) int {
	switch kind {
	case media.KindImage:
		return fileTypeImage
	case media.KindVideo:
		return fileTypeVideo
	case media.KindAudio:
		return fileTypeVoice
	default:
		return 0
	}
}

// Send delivers media first, then text, matching the original ordering.
// Every API call replying to the same inbound message draws a fresh
// msg_seq from the per-message registry.
func (a *Adapter) Send(ctx context.Context, msg channels.OutboundMessage) error {
	openID, ok := a.convs.Reverse(msg.ConversationID)
	if !ok {
		return fmt.Errorf("qq: no peer for conversation %s", msg.ConversationID)
	}

	text := strings.TrimSpace(msg.Text)

	for _, ref := range msg.Media {
		resolved := a.resolveMedia(ctx, ref)
		switch resolved.outcome {
		case outcomeDirectURL, outcomeUploadedURL:
			if err := a.sendMedia(ctx, openID, msg.ReplyTargetID, resolved); err != nil {
				a.logger.Warn("qq media send failed",
					slog.String("url", resolved.url),
					slog.String("err", err.Error()),
				)
				telemetry.Metrics.DegradedDeliveries.WithLabelValues("qq", "media_send_failed").Inc()
				if err := a.sendText(ctx, openID, msg.ReplyTargetID, noticeSendFailed); err != nil {
					return err
				}
			}
		case outcomeUnsupportedType:
			telemetry.Metrics.DegradedDeliveries.WithLabelValues("qq", "unsupported_type").Inc()
			if err := a.sendText(ctx, openID, msg.ReplyTargetID, noticeUnsupportedType); err != nil {
				return err
			}
		case outcomeNoPublicURL:
			telemetry.Metrics.DegradedDeliveries.WithLabelValues("qq", "no_public_url").Inc()
			if err := a.sendText(ctx, openID, msg.ReplyTargetID, noticeNoPublicURL); err != nil {
				return err
			}
		}
	}

	if text != "" {
		for _, chunk := range channels.SplitMessage(text, maxTextLen) {
			if err := a.sendText(ctx, openID, msg.ReplyTargetID, chunk); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *Adapter) sendText(ctx context.Context, openID, replyID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	params := c2cMessageParams{
		Content: text,
		MsgType: 0,
	}
	if replyID != "" {
		params.MsgID = replyID
		params.MsgSeq = a.seq.Next(replyID)
	}
	return a.api.postC2CMessage(ctx, openID, params)
}

func (a *Adapter) sendMedia(ctx context.Context, openID, replyID string, resolved resolvedMedia) error {
	mediaInfo, err := a.api.postC2CFile(ctx, openID, resolved.fileType, resolved.url)
	if err != nil {
		return err
	}
	params := c2cMessageParams{
		MsgType: 7,
		Media:   mediaInfo,
	}
	if replyID != "" {
		params.MsgID = replyID
		params.MsgSeq = a.seq.Next(replyID)
	}
	return a.api.postC2CMessage(ctx, openID, params)
}

func normalizeAttachmentURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}

func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
