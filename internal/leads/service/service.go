// Package service orchestrates the lead lifecycle: inbound message
// processing, qualification, scoring and handoff to delivery.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leadgate_backend/internal/events"
	"leadgate_backend/internal/leads/domain"
	"leadgate_backend/internal/leads/repository"
	"leadgate_backend/internal/leads/scoring"
	tenantsrepo "leadgate_backend/internal/tenants/repository"
	"leadgate_backend/platform/ai/nlp"
	"leadgate_backend/platform/apperr"
	"leadgate_backend/platform/logger"
	"leadgate_backend/platform/phone"

	"github.com/google/uuid"
)

// fallbackReply is sent when reply generation fails. The lead never sees an
// exposed error.
const fallbackReply = "Gracias por tu mensaje. Un asesor te responderá en breve."

// retryInterval spaces scheduled contact retries.
const retryInterval = 24 * time.Hour

// historyLimit caps conversation turns passed to reply generation.
const historyLimit = 20

// knowledgeSnippetLimit caps retrieved knowledge snippets per reply.
const knowledgeSnippetLimit = 3

// ConversationAI is the external NLP capability boundary.
type ConversationAI interface {
	Extract(ctx context.Context, message string, priorFields any) (nlp.ExtractedFields, error)
	Generate(ctx context.Context, message string, fields, offer any, history []nlp.HistoryEntry) (string, error)
}

// MessageSender delivers outbound conversational messages.
type MessageSender interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// KnowledgeRetriever vectorizes the inbound message, cache-first, and looks
// up nearby stored knowledge so reply generation can ground its answer.
// Satisfied by the knowledge service.
type KnowledgeRetriever interface {
	RetrieveContext(ctx context.Context, text string, limit int) ([]string, error)
}

// DeliveryCreator snapshots a LEAD_READY lead offer into a delivery and
// schedules its dispatch. Satisfied by the delivery service.
type DeliveryCreator interface {
	CreateForLeadOffer(ctx context.Context, leadOfferID uuid.UUID) error
}

// TenantReader provides the tenant/offer context needed for scoring.
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (tenantsrepo.Tenant, error)
	GetOffer(ctx context.Context, offerID, tenantID uuid.UUID) (tenantsrepo.Offer, error)
	ResolveSource(ctx context.Context, sourceKey string) (tenantsrepo.SourceMapping, error)
}

// Store is the persistence surface the orchestrator drives. Satisfied by the
// leads repository.
type Store interface {
	GetOrCreateLeadByPhone(ctx context.Context, phone string, name *string) (repository.Lead, bool, error)
	GetLead(ctx context.Context, leadID uuid.UUID) (repository.Lead, error)
	LockLead(ctx context.Context, leadID uuid.UUID) (func(), error)
	GetLeadOffer(ctx context.Context, id uuid.UUID) (repository.LeadOffer, error)
	GetActiveLeadOfferForLead(ctx context.Context, leadID uuid.UUID) (repository.LeadOffer, error)
	CreateLeadOffer(ctx context.Context, leadID uuid.UUID) (repository.LeadOffer, error)
	ApplyTransition(ctx context.Context, current repository.LeadOffer, event domain.Event, update repository.TransitionUpdate) (repository.LeadOffer, error)
	UpdateFields(ctx context.Context, current repository.LeadOffer, update repository.TransitionUpdate) (repository.LeadOffer, error)
	RecordMessage(ctx context.Context, leadOfferID uuid.UUID, direction, body string) error
	ListRecentMessages(ctx context.Context, leadOfferID uuid.UUID, limit int) ([]repository.Message, error)
	GetConversationStats(ctx context.Context, leadOfferID uuid.UUID) (repository.ConversationStats, error)
}

// Service is the lead lifecycle orchestrator.
type Service struct {
	repo     Store
	tenants  TenantReader
	ai       ConversationAI
	sender   MessageSender
	delivery DeliveryCreator
	bus      events.Bus
	log      *logger.Logger

	knowledge KnowledgeRetriever // optional
}

// New creates the orchestrator.
func New(repo Store, tenants TenantReader, ai ConversationAI, sender MessageSender, delivery DeliveryCreator, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		tenants:  tenants,
		ai:       ai,
		sender:   sender,
		delivery: delivery,
		bus:      bus,
		log:      log,
	}
}

// SetKnowledge injects the embedding cache used during reply generation.
func (s *Service) SetKnowledge(knowledge KnowledgeRetriever) {
	s.knowledge = knowledge
}

// InboundMessage is a verified inbound conversational event.
type InboundMessage struct {
	Phone     string
	Text      string
	SourceKey string // ad/source identifier, present on first contact
}

// ProcessInboundMessage runs the full conversation step for one inbound
// message: lead resolution, extraction, scoring, state transitions and the
// outbound reply. Transitions for one lead are serialized via a per-lead
// lock so concurrent webhook and scheduler work cannot interleave.
func (s *Service) ProcessInboundMessage(ctx context.Context, msg InboundMessage) error {
	normalized := phone.NormalizeE164(msg.Phone)

	lead, created, err := s.repo.GetOrCreateLeadByPhone(ctx, normalized, nil)
	if err != nil {
		return err
	}
	if created {
		s.bus.Publish(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), LeadID: lead.ID, Phone: normalized})
	}

	release, err := s.repo.LockLead(ctx, lead.ID)
	if err != nil {
		return err
	}
	defer release()

	lo, err := s.repo.GetActiveLeadOfferForLead(ctx, lead.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		lo, err = s.repo.CreateLeadOffer(ctx, lead.ID)
	}
	if err != nil {
		return err
	}

	if lo.Status == domain.StatusPendingMapping {
		lo, err = s.mapSource(ctx, lo, msg.SourceKey)
		if err != nil {
			return err
		}
		// Source still unmapped: store the message and stop. The lead is
		// picked up once a mapping exists.
		if lo.Status == domain.StatusPendingMapping {
			return s.repo.RecordMessage(ctx, lo.ID, repository.DirectionInbound, msg.Text)
		}
	}

	if err := s.repo.RecordMessage(ctx, lo.ID, repository.DirectionInbound, msg.Text); err != nil {
		return err
	}

	// The inbound-reply edge, where defined for the current status.
	if domain.CanTransition(lo.Status, domain.EventInboundReply) {
		lo, err = s.applyWithRetry(ctx, lo, domain.EventInboundReply, repository.TransitionUpdate{ClearNextAttempt: true})
		if err != nil {
			return err
		}
	}

	lo, err = s.runExtraction(ctx, lo, msg.Text)
	if err != nil {
		return err
	}

	lo, err = s.runScoring(ctx, lo)
	if err != nil {
		return err
	}

	return s.reply(ctx, lead, lo, msg.Text)
}

// mapSource resolves the ad/source key to a tenant+offer and advances the
// lead offer out of PENDING_MAPPING. An empty or unknown source leaves the
// row untouched.
func (s *Service) mapSource(ctx context.Context, lo repository.LeadOffer, sourceKey string) (repository.LeadOffer, error) {
	if sourceKey == "" {
		return lo, nil
	}

	mapping, err := s.tenants.ResolveSource(ctx, sourceKey)
	if apperr.Is(err, apperr.KindNotFound) {
		s.log.Warn("no tenant mapping for source", "source", sourceKey, "leadOfferId", lo.ID)
		return lo, nil
	}
	if err != nil {
		return repository.LeadOffer{}, err
	}

	// The follow-up timer is armed as soon as the offer becomes contactable.
	// A greeting that never goes out still leaves the lead on the retry
	// schedule instead of stranding it in TO_BE_CONTACTED.
	next := time.Now().UTC().Add(retryInterval)
	return s.applyWithRetry(ctx, lo, domain.EventSourceMapped, repository.TransitionUpdate{
		TenantID:      &mapping.TenantID,
		OfferID:       &mapping.OfferID,
		NextAttemptAt: &next,
	})
}

// runExtraction calls the NLP boundary and merges new fields into the
// accumulated record. Extraction failures degrade: the conversation
// continues with the fields already known.
func (s *Service) runExtraction(ctx context.Context, lo repository.LeadOffer, text string) (repository.LeadOffer, error) {
	extracted, err := s.ai.Extract(ctx, text, lo.Fields)
	if err != nil {
		s.log.Error("field extraction failed", "error", err, "leadOfferId", lo.ID.String())
		return lo, nil
	}

	overlay := domain.QualificationFields{
		Name:       extracted.Name,
		Budget:     domain.Budget{Min: extracted.BudgetMin, Max: extracted.BudgetMax},
		Zones:      extracted.Zones,
		Timing:     extracted.Timing,
		Bedrooms:   extracted.Bedrooms,
		IsInvestor: extracted.IsInvestor,
		Financing:  extracted.Financing,
	}
	merged := lo.Fields.Merge(overlay)

	event := domain.Event("")
	if lo.Status == domain.StatusEngaged {
		event = domain.EventFieldsExtracted
	}

	if event == "" {
		// No status change: persist merged fields through the current
		// status's inbound self-edge on the next write, or directly here.
		updated, err := s.applyFieldsOnly(ctx, lo, merged)
		if err != nil {
			return repository.LeadOffer{}, err
		}
		return updated, nil
	}

	return s.applyWithRetry(ctx, lo, event, repository.TransitionUpdate{Fields: &merged})
}

// applyFieldsOnly persists merged qualification fields without a status
// change, still under the optimistic version guard.
func (s *Service) applyFieldsOnly(ctx context.Context, lo repository.LeadOffer, merged domain.QualificationFields) (repository.LeadOffer, error) {
	if domain.CanTransition(lo.Status, domain.EventInboundReply) {
		// Statuses with an inbound self-edge route field updates through it.
		next, _ := domain.Transition(lo.Status, domain.EventInboundReply)
		if next == lo.Status {
			return s.applyWithRetry(ctx, lo, domain.EventInboundReply, repository.TransitionUpdate{Fields: &merged})
		}
	}

	updated, err := s.repo.UpdateFields(ctx, lo, repository.TransitionUpdate{Fields: &merged})
	if err != nil {
		return repository.LeadOffer{}, err
	}
	return updated, nil
}

// runScoring computes the score once the minimum-fields gate passes, then
// routes the lead to LEAD_READY or DISQUALIFIED against the tenant
// threshold.
func (s *Service) runScoring(ctx context.Context, lo repository.LeadOffer) (repository.LeadOffer, error) {
	if lo.Status != domain.StatusQualifying || lo.TenantID == nil || lo.OfferID == nil {
		return lo, nil
	}

	gate := scoring.CheckMinimumFields(lo.Fields)
	if !gate.Ready {
		return lo, nil
	}

	tenant, err := s.tenants.GetTenant(ctx, *lo.TenantID)
	if err != nil {
		return repository.LeadOffer{}, err
	}
	offer, err := s.tenants.GetOffer(ctx, *lo.OfferID, *lo.TenantID)
	if err != nil {
		return repository.LeadOffer{}, err
	}

	stats, err := s.repo.GetConversationStats(ctx, lo.ID)
	if err != nil {
		return repository.LeadOffer{}, err
	}

	offerCtx := scoring.OfferContext{PriceMin: offer.PriceMin, PriceMax: offer.PriceMax, Zones: offer.Zones}
	result := scoring.CalculateLeadScore(lo.Fields, offerCtx, scoring.ConversationContext{
		MessageCount:    stats.InboundCount,
		AvgResponseTime: stats.AvgResponseTime,
	})

	breakdownJSON, err := json.Marshal(result.Breakdown)
	if err != nil {
		return repository.LeadOffer{}, err
	}

	lo, err = s.applyWithRetry(ctx, lo, domain.EventScoreComputed, repository.TransitionUpdate{
		Score:          &result.Score,
		ScoreBreakdown: breakdownJSON,
	})
	if err != nil {
		return repository.LeadOffer{}, err
	}

	if result.Score >= tenant.DefaultScoreThreshold {
		lo, err = s.applyWithRetry(ctx, lo, domain.EventQualified, repository.TransitionUpdate{})
		if err != nil {
			return repository.LeadOffer{}, err
		}

		s.bus.Publish(ctx, events.LeadReady{
			BaseEvent:   events.NewBaseEvent(),
			LeadOfferID: lo.ID,
			TenantID:    *lo.TenantID,
			Score:       result.Score,
		})

		// Delivery creation happens-before any credit consumption.
		if err := s.delivery.CreateForLeadOffer(ctx, lo.ID); err != nil {
			return repository.LeadOffer{}, err
		}
		return lo, nil
	}

	category := scoring.SuggestDisqualification(lo.Fields, offerCtx, result.Breakdown)
	lo, err = s.applyWithRetry(ctx, lo, domain.EventDisqualified, repository.TransitionUpdate{
		DisqualificationCategory: &category,
	})
	if err != nil {
		return repository.LeadOffer{}, err
	}

	s.bus.Publish(ctx, events.LeadDisqualified{
		BaseEvent:   events.NewBaseEvent(),
		LeadOfferID: lo.ID,
		Category:    string(category),
	})
	return lo, nil
}

// reply generates and sends the conversational answer. Generation failures
// degrade to a generic fallback; send failures are logged but do not fail
// the inbound processing (the provider may retry us).
func (s *Service) reply(ctx context.Context, lead repository.Lead, lo repository.LeadOffer, inbound string) error {
	if domain.IsTerminal(lo.Status) && lo.Status != domain.StatusSentToDeveloper {
		return nil
	}

	var genCtx struct {
		Offer     any      `json:"offer,omitempty"`
		Knowledge []string `json:"knowledge,omitempty"`
	}
	if lo.TenantID != nil && lo.OfferID != nil {
		if o, err := s.tenants.GetOffer(ctx, *lo.OfferID, *lo.TenantID); err == nil {
			genCtx.Offer = o
		}
	}
	if s.knowledge != nil {
		// Cache-first; a retrieval failure just means generation runs
		// without grounding snippets.
		if snippets, err := s.knowledge.RetrieveContext(ctx, inbound, knowledgeSnippetLimit); err == nil {
			genCtx.Knowledge = snippets
		}
	}

	history, err := s.repo.ListRecentMessages(ctx, lo.ID, historyLimit)
	if err != nil {
		return err
	}
	turns := make([]nlp.HistoryEntry, 0, len(history))
	for _, m := range history {
		role := "lead"
		if m.Direction == repository.DirectionOutbound {
			role = "assistant"
		}
		turns = append(turns, nlp.HistoryEntry{Role: role, Text: m.Body})
	}

	text, err := s.ai.Generate(ctx, inbound, lo.Fields, genCtx, turns)
	if err != nil || text == "" {
		s.log.Error("reply generation failed, using fallback", "error", err, "leadOfferId", lo.ID.String())
		text = fallbackReply
	}

	if err := s.sender.SendMessage(ctx, lead.Phone, text); err != nil {
		s.log.Error("outbound send failed", "error", err, "leadOfferId", lo.ID.String())
		return nil
	}

	if err := s.repo.RecordMessage(ctx, lo.ID, repository.DirectionOutbound, text); err != nil {
		return err
	}

	// The first outbound message counts as a contact attempt and moves the
	// offer out of TO_BE_CONTACTED. Later statuses define no outbound edge,
	// so this is a no-op for the rest of the conversation.
	if domain.CanTransition(lo.Status, domain.EventOutboundSent) {
		attempts := lo.ContactAttempts + 1
		next := time.Now().UTC().Add(retryInterval)
		if _, err := s.applyWithRetry(ctx, lo, domain.EventOutboundSent, repository.TransitionUpdate{
			ContactAttempts: &attempts,
			NextAttemptAt:   &next,
		}); err != nil {
			return err
		}
	}
	return nil
}

// MarkDelivered applies the delivery-completed edge. Called by the delivery
// dispatcher after a successful handoff.
func (s *Service) MarkDelivered(ctx context.Context, leadOfferID uuid.UUID) error {
	lo, err := s.repo.GetLeadOffer(ctx, leadOfferID)
	if err != nil {
		return err
	}

	_, err = s.applyWithRetry(ctx, lo, domain.EventDeliveryCompleted, repository.TransitionUpdate{})
	return err
}

// RetryContact sends the scheduled follow-up for an unresponsive lead and
// bumps the attempt counter. Used by the sweep's retry phase.
func (s *Service) RetryContact(ctx context.Context, leadOfferID uuid.UUID) error {
	lo, err := s.repo.GetLeadOffer(ctx, leadOfferID)
	if err != nil {
		return err
	}
	if lo.ContactAttempts >= domain.MaxContactAttempts {
		return apperr.Conflict("contact attempts exhausted")
	}

	lead, err := s.repo.GetLead(ctx, lo.LeadID)
	if err != nil {
		return err
	}

	attempts := lo.ContactAttempts + 1
	next := time.Now().UTC().Add(retryInterval)
	lo, err = s.applyWithRetry(ctx, lo, domain.EventRetryContact, repository.TransitionUpdate{
		ContactAttempts: &attempts,
		NextAttemptAt:   &next,
	})
	if err != nil {
		return err
	}

	text := followUpMessage(lo.Fields)
	if err := s.sender.SendMessage(ctx, lead.Phone, text); err != nil {
		return apperr.External("follow-up send failed", err)
	}
	return s.repo.RecordMessage(ctx, lo.ID, repository.DirectionOutbound, text)
}

// Reactivate runs one reactivation attempt for a cooled lead: move to
// REACTIVATION, send the nudge, return to COOLING with the counter bumped.
// Used by the sweep's reactivation phase.
func (s *Service) Reactivate(ctx context.Context, leadOfferID uuid.UUID) error {
	lo, err := s.repo.GetLeadOffer(ctx, leadOfferID)
	if err != nil {
		return err
	}
	if lo.ReactivationCount >= domain.MaxReactivations {
		// Cap reached: the lead stays in COOLING, it is not auto-disqualified.
		return nil
	}

	lead, err := s.repo.GetLead(ctx, lo.LeadID)
	if err != nil {
		return err
	}

	lo, err = s.applyWithRetry(ctx, lo, domain.EventReactivationDue, repository.TransitionUpdate{})
	if err != nil {
		return err
	}

	text := reactivationMessage(lo.Fields)
	sendErr := s.sender.SendMessage(ctx, lead.Phone, text)
	if sendErr == nil {
		_ = s.repo.RecordMessage(ctx, lo.ID, repository.DirectionOutbound, text)
	}

	count := lo.ReactivationCount + 1
	if _, err := s.applyWithRetry(ctx, lo, domain.EventReactivationSent, repository.TransitionUpdate{
		ReactivationCount: &count,
	}); err != nil {
		return err
	}

	if sendErr != nil {
		return apperr.External("reactivation send failed", sendErr)
	}
	return nil
}

// applyWithRetry applies one transition, reloading and retrying once when an
// optimistic version conflict is lost to a concurrent writer.
func (s *Service) applyWithRetry(ctx context.Context, lo repository.LeadOffer, event domain.Event, update repository.TransitionUpdate) (repository.LeadOffer, error) {
	updated, err := s.repo.ApplyTransition(ctx, lo, event, update)
	if errors.Is(err, repository.ErrVersionConflict) {
		reloaded, reloadErr := s.repo.GetLeadOffer(ctx, lo.ID)
		if reloadErr != nil {
			return repository.LeadOffer{}, reloadErr
		}
		updated, err = s.repo.ApplyTransition(ctx, reloaded, event, update)
	}
	if err != nil {
		return repository.LeadOffer{}, err
	}

	s.log.StatusTransition(lo.ID.String(), string(lo.Status), string(updated.Status), string(event))
	return updated, nil
}

func followUpMessage(fields domain.QualificationFields) string {
	if fields.HasName() {
		return "Hola " + *fields.Name + ", ¿sigues interesado en encontrar tu propiedad? Quedo a tu disposición."
	}
	return "Hola, ¿sigues interesado en encontrar tu propiedad? Quedo a tu disposición."
}

func reactivationMessage(fields domain.QualificationFields) string {
	if fields.HasName() {
		return "Hola " + *fields.Name + ", tenemos novedades que podrían interesarte. ¿Te gustaría retomar la búsqueda?"
	}
	return "Hola, tenemos novedades que podrían interesarte. ¿Te gustaría retomar la búsqueda?"
}
