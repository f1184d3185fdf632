package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dteixeira/mmbridge/pkg/channels"
	"github.com/dteixeira/mmbridge/pkg/history"
	"github.com/dteixeira/mmbridge/pkg/llm"
	"github.com/dteixeira/mmbridge/pkg/media"
	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

// ErrQueueFull reports that a conversation's serial queue did not accept a
// message within the enqueue timeout. The turn fails; history is untouched.
var ErrQueueFull = errors.New("bridge: conversation queue full")

const (
	historyDepth   = 20
	queueCapacity  = 64
	enqueueTimeout = 5 * time.Second
)

// Loop orchestrates turns: it fans inbound messages from all adapters into
// per-conversation serial workers, augments media-less turns with recalled
// images, invokes the model, persists both turns and hands the response back
// to the originating adapter.
type Loop struct {
	store    *history.Store
	cache    *media.Store
	invoker  llm.Invoker
	recall   *RecallPolicy
	limit    int
	adapters []channels.Adapter
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]chan queuedTurn
}

type queuedTurn struct {
	adapter channels.Adapter
	msg     channels.InboundMessage
}

func NewLoop(store *history.Store, cache *media.Store, invoker llm.Invoker, recall *RecallPolicy, recentImageLimit int, adapters []channels.Adapter, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = telemetry.Component("bridge")
	}
	return &Loop{
		store:    store,
		cache:    cache,
		invoker:  invoker,
		recall:   recall,
		limit:    recentImageLimit,
		adapters: adapters,
		logger:   logger,
		workers:  make(map[string]chan queuedTurn),
	}
}

func (l *Loop) Start(ctx context.Context) {
	for _, adapter := range l.adapters {
		go l.listenAdapter(ctx, adapter)
	}
}

func (l *Loop) listenAdapter(ctx context.Context, adapter channels.Adapter) {
	ch := adapter.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := l.dispatch(ctx, adapter, msg); err != nil {
				l.logger.Error("failed to enqueue turn",
					slog.String("channel", msg.ChannelName),
					slog.String("conversation_id", msg.ConversationID),
					slog.String("err", err.Error()),
				)
				telemetry.Metrics.ErrorsTotal.WithLabelValues("bridge").Inc()
			}
		}
	}
}

// dispatch routes a message onto its conversation's single-worker queue.
// Turns within one conversation run in arrival order; different
// conversations proceed independently. Enqueueing is bounded so a wedged
// conversation fails its turns instead of deadlocking the listener.
func (l *Loop) dispatch(ctx context.Context, adapter channels.Adapter, msg channels.InboundMessage) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("bridge: inbound message missing conversation id")
	}

	queue := l.workerQueue(ctx, msg.ConversationID)

	select {
	case queue <- queuedTurn{adapter: adapter, msg: msg}:
		telemetry.Metrics.InboundQueueDepth.Inc()
		return nil
	case <-time.After(enqueueTimeout):
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) workerQueue(ctx context.Context, conversationID string) chan queuedTurn {
	l.mu.Lock()
	defer l.mu.Unlock()

	if q, ok := l.workers[conversationID]; ok {
		return q
	}

	q := make(chan queuedTurn, queueCapacity)
	l.workers[conversationID] = q
	go l.runWorker(ctx, q)
	return q
}

func (l *Loop) runWorker(ctx context.Context, queue chan queuedTurn) {
	for {
		select {
		case <-ctx.Done():
			return
		case qt := <-queue:
			telemetry.Metrics.InboundQueueDepth.Dec()
			if err := l.HandleTurn(ctx, qt.adapter, qt.msg); err != nil {
				l.logger.Error("turn failed",
					slog.String("channel", qt.msg.ChannelName),
					slog.String("conversation_id", qt.msg.ConversationID),
					slog.String("err", err.Error()),
				)
				telemetry.Metrics.TurnsTotal.WithLabelValues(qt.msg.ChannelName, "error").Inc()
			} else {
				telemetry.Metrics.TurnsTotal.WithLabelValues(qt.msg.ChannelName, "ok").Inc()
			}
		}
	}
}

// HandleTurn runs one full turn: recall, model invocation, persistence,
// delivery. A model failure aborts before anything is persisted; a history
// append failure aborts before delivery, so a turn is never reported
// delivered without being durably recorded.
func (l *Loop) HandleTurn(ctx context.Context, adapter channels.Adapter, msg channels.InboundMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "bridge.turn",
		attribute.String("channel", msg.ChannelName),
		attribute.String("conversation_id", msg.ConversationID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.Metrics.TurnDuration.WithLabelValues(msg.ChannelName).Observe(time.Since(start).Seconds())
	}()

	logger := l.logger.With(
		slog.String("channel", msg.ChannelName),
		slog.String("conversation_id", msg.ConversationID),
	)

	// The recalled images live only in the model context for this call.
	// The persisted inbound turn records what the user actually sent.
	imagePaths := imagePathsOf(msg.Media)
	recalled := false
	if len(msg.Media) == 0 && l.limit > 0 && l.recall.ShouldRecall(msg.Text) {
		paths, err := l.store.RecentImagePaths(ctx, msg.ConversationID, l.limit, l.cache.ResolveExisting)
		if err != nil {
			logger.Warn("image recall failed, continuing without", slog.String("err", err.Error()))
		} else if len(paths) > 0 {
			imagePaths = paths
			recalled = true
			telemetry.Metrics.RecallTriggered.Inc()
			telemetry.Metrics.RecallImages.Add(float64(len(paths)))
			logger.Info("recalled recent images", slog.Int("count", len(paths)))
		}
	}
	span.SetAttributes(attribute.Bool("recall_triggered", recalled))

	prior, err := l.store.RecentTurns(ctx, msg.ConversationID, historyDepth)
	if err != nil {
		logger.Warn("loading prior turns failed, invoking without history", slog.String("err", err.Error()))
		prior = nil
	}

	resp, err := l.invoker.Invoke(ctx, llm.Request{
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		ImagePaths:     imagePaths,
		History:        toModelHistory(prior),
	})
	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("model").Inc()
		return fmt.Errorf("invoking model: %w", err)
	}

	inbound := &history.Turn{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Direction:      history.Inbound,
		Text:           msg.Text,
		Media:          msg.Media,
		ReplyTargetID:  msg.ReplyTargetID,
		CreatedAt:      msg.Timestamp,
	}
	if err := l.store.Append(ctx, inbound); err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("history").Inc()
		return fmt.Errorf("persisting inbound turn: %w", err)
	}

	outMedia := refsFromPaths(resp.MediaPaths)
	outbound := &history.Turn{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Direction:      history.Outbound,
		Text:           resp.Text,
		Media:          outMedia,
		ReplyTargetID:  msg.ReplyTargetID,
	}
	if err := l.store.Append(ctx, outbound); err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("history").Inc()
		return fmt.Errorf("persisting outbound turn: %w", err)
	}

	if err := adapter.Send(ctx, channels.OutboundMessage{
		ConversationID: msg.ConversationID,
		Text:           resp.Text,
		Media:          outMedia,
		ReplyTargetID:  msg.ReplyTargetID,
	}); err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("channel").Inc()
		return fmt.Errorf("delivering response: %w", err)
	}

	return nil
}

func imagePathsOf(refs []media.Reference) []string {
	var paths []string
	for _, r := range refs {
		if r.Kind == media.KindImage && r.LocalPath != "" {
			paths = append(paths, r.LocalPath)
		}
	}
	return paths
}

func refsFromPaths(paths []string) []media.Reference {
	var refs []media.Reference
	for _, p := range paths {
		if p == "" {
			continue
		}
		refs = append(refs, media.Reference{
			Kind:      media.ClassifyPath(p),
			LocalPath: p,
		})
	}
	return refs
}

func toModelHistory(turns []history.Turn) []llm.Message {
	var msgs []llm.Message
	for _, t := range turns {
		role := llm.RoleUser
		if t.Direction == history.Outbound {
			role = llm.RoleAssistant
		}
		if t.Text == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}
