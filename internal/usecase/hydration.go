package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chatsync/internal/domain"
)

// HydrationBatchSize is the number of history records replayed concurrently.
const HydrationBatchSize = 5

// HydrationService backfills REST history into a conversation channel that
// has no messages yet. It runs at most once per session.
type HydrationService struct {
	logger         *slog.Logger
	conversationID string
	history        HistoryFetcher
	channel        Channel
	metrics        Metrics

	group    singleflight.Group
	mu       sync.Mutex
	hydrated bool
}

func NewHydrationService(conversationID string, history HistoryFetcher, channel Channel, logger *slog.Logger, metrics Metrics) *HydrationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HydrationService{
		logger:         logger,
		conversationID: conversationID,
		history:        history,
		channel:        channel,
		metrics:        orNoopMetrics(metrics),
	}
}

// Hydrated reports whether an attempt has completed, successful or not.
func (h *HydrationService) Hydrated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hydrated
}

// Hydrate runs the backfill if it has not run yet. Concurrent callers share
// one execution. The returned error is informational: the conversation stays
// usable with whatever history made it into the channel.
func (h *HydrationService) Hydrate(ctx context.Context) error {
	if h.Hydrated() {
		return nil
	}
	_, err, _ := h.group.Do(h.conversationID, func() (any, error) {
		if h.Hydrated() {
			return nil, nil
		}
		err := h.run(ctx)
		h.mu.Lock()
		h.hydrated = true
		h.mu.Unlock()
		return nil, err
	})
	return err
}

func (h *HydrationService) run(ctx context.Context) error {
	count, err := h.channel.MessageCount(ctx)
	if err != nil {
		return h.fail("channel_state_error", err)
	}
	if count > 0 {
		h.metrics.HydrationObserved("skipped")
		return nil
	}

	records, err := h.history.FetchHistory(ctx, h.conversationID)
	if err != nil {
		return h.fail("history_fetch_error", err)
	}
	replay := replayable(records)

	for start := 0; start < len(replay); start += HydrationBatchSize {
		end := min(start+HydrationBatchSize, len(replay))
		g, gctx := errgroup.WithContext(ctx)
		for _, rec := range replay[start:end] {
			g.Go(func() error {
				return h.channel.Publish(gctx, domain.OutboundMessage{
					Text:      rec.Content,
					Role:      rec.Role,
					CreatedAt: rec.CreatedAt,
				})
			})
		}
		if err := g.Wait(); err != nil {
			return h.fail("replay_error", err)
		}
	}

	h.logger.Info("conversation hydrated", "conversation_id", h.conversationID, "messages", len(replay))
	h.metrics.HydrationObserved("replayed")
	return nil
}

func (h *HydrationService) fail(reason string, err error) error {
	h.logger.Warn("hydration failed", "conversation_id", h.conversationID, "reason", reason, "err", err)
	h.metrics.HydrationObserved("failed")
	return newError(ErrorHydration, reason, err)
}

// replayable drops internal entries and orders the rest by creation time.
// Without timestamps on every record the fetched order is kept.
func replayable(records []domain.HistoryRecord) []domain.HistoryRecord {
	out := make([]domain.HistoryRecord, 0, len(records))
	stamped := true
	for _, r := range records {
		if r.Role != domain.RoleUser && r.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		stamped = stamped && !r.CreatedAt.IsZero()
		out = append(out, r)
	}
	if stamped {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	return out
}
