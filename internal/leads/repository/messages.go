package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is one conversation turn attached to a lead offer.
type Message struct {
	ID          uuid.UUID
	LeadOfferID uuid.UUID
	Direction   string
	Body        string
	CreatedAt   time.Time
}

// ConversationStats feeds the engagement component of scoring.
type ConversationStats struct {
	InboundCount    int
	AvgResponseTime time.Duration
}

// RecordMessage appends a conversation turn.
func (r *Repository) RecordMessage(ctx context.Context, leadOfferID uuid.UUID, direction, body string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_messages (lead_offer_id, direction, body)
		VALUES ($1, $2, $3)
	`, leadOfferID, direction, body)
	return err
}

// ListRecentMessages returns the newest turns, oldest first, capped at limit.
func (r *Repository) ListRecentMessages(ctx context.Context, leadOfferID uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_offer_id, direction, body, created_at
		FROM (
			SELECT id, lead_offer_id, direction, body, created_at
			FROM lead_messages
			WHERE lead_offer_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, leadOfferID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.LeadOfferID, &m.Direction, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// GetConversationStats derives the engagement signals: inbound message count
// and the average delay between an outbound message and the next inbound
// reply.
func (r *Repository) GetConversationStats(ctx context.Context, leadOfferID uuid.UUID) (ConversationStats, error) {
	var (
		stats      ConversationStats
		avgSeconds *float64
	)
	err := r.pool.QueryRow(ctx, `
		WITH turns AS (
			SELECT direction, created_at,
				LAG(direction) OVER (ORDER BY created_at) AS prev_direction,
				LAG(created_at) OVER (ORDER BY created_at) AS prev_at
			FROM lead_messages
			WHERE lead_offer_id = $1
		)
		SELECT
			(SELECT COUNT(*) FROM lead_messages WHERE lead_offer_id = $1 AND direction = $2),
			AVG(EXTRACT(EPOCH FROM created_at - prev_at))
				FILTER (WHERE direction = $2 AND prev_direction = $3)
		FROM turns
	`, leadOfferID, DirectionInbound, DirectionOutbound).Scan(&stats.InboundCount, &avgSeconds)
	if err != nil {
		return ConversationStats{}, err
	}

	if avgSeconds != nil {
		stats.AvgResponseTime = time.Duration(*avgSeconds * float64(time.Second))
	}
	return stats, nil
}
