// Package dispatch adapts the external notification transport to the
// distribution engine: it renders payloads per chat context and applies the
// bounded retry policy. Trading specifics only ever reach private chats;
// shared contexts get a generic notice with no exchange names, rates, or
// fee figures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// Dispatcher performs the actual send with a single fixed-delay retry on
// transient failures. Permanent failures (blocked recipient) are never
// retried.
type Dispatcher struct {
	transport  domain.NotificationTransport
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a Dispatcher over the given transport.
func New(transport domain.NotificationTransport, retryDelay time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		retryDelay: retryDelay,
		logger:     logger.With(slog.String("component", "dispatcher")),
	}
}

// Deliver renders the payload for the user's chat context and sends it,
// retrying once after the fixed delay if the first attempt fails
// transiently. The returned error is nil iff the message was accepted by
// the transport.
func (d *Dispatcher) Deliver(ctx context.Context, user domain.UserEligibilityContext, opp domain.ArbitrageOpportunity) error {
	msg, err := Render(user.ChatContext, opp)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= 2; attempt++ {
		err = d.transport.Send(ctx, user.UserID, msg)

		logAttrs := []any{
			slog.String("opportunity_id", opp.ID),
			slog.String("user_id", user.UserID),
			slog.Int("attempt", attempt),
		}
		if err == nil {
			d.logger.InfoContext(ctx, "notification sent", logAttrs...)
			return nil
		}
		d.logger.WarnContext(ctx, "notification send failed",
			append(logAttrs, slog.String("error", err.Error()))...)

		if errors.Is(err, domain.ErrTransportBlocked) {
			// Permanent: retrying a blocked recipient cannot succeed.
			return err
		}
		if attempt == 1 {
			timer := time.NewTimer(d.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("dispatch: deliver %s to %s: %w", opp.ID, user.UserID, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("dispatch: deliver %s to %s: %w", opp.ID, user.UserID, err)
}

// Render builds the outgoing message for a chat context. The switch is
// exhaustive over the closed ChatContextType set.
func Render(chatCtx domain.ChatContextType, opp domain.ArbitrageOpportunity) (string, error) {
	switch chatCtx {
	case domain.ChatContextPrivate:
		return renderPrivate(opp), nil
	case domain.ChatContextGroup, domain.ChatContextChannel:
		return renderSharedNotice(), nil
	default:
		return "", fmt.Errorf("dispatch: unknown chat context %q", chatCtx)
	}
}

// renderPrivate includes the full trading specifics.
func renderPrivate(opp domain.ArbitrageOpportunity) string {
	return fmt.Sprintf(
		"Funding Arbitrage: %s\nLong %s (%.4f%%) / Short %s (%.4f%%)\nSpread: %.4f%%  Fees: %.4f%%  Net: %.4f%%",
		opp.Pair.Symbol,
		opp.LongExchange, opp.LongRate*100,
		opp.ShortExchange, opp.ShortRate*100,
		opp.RateDiff*100, opp.TotalFees*100, opp.NetRateDiff*100,
	)
}

// renderSharedNotice carries no opportunity-specific trading fields.
func renderSharedNotice() string {
	return "A new arbitrage opportunity matching this chat's subscription was detected. Open a private chat with the bot for details."
}
