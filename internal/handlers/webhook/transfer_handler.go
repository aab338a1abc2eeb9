package webhook

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/handlers/response"
	"github.com/kevin07696/payout-service/internal/services/reconcile"
	"github.com/kevin07696/payout-service/pkg/crypto"
)

// SignatureHeader carries the provider's base64 RSA-SHA256 body signature
const SignatureHeader = "X-Signature-SHA256"

const maxBodyBytes = 64 << 10

// EventProcessor applies one provider event
type EventProcessor interface {
	Process(ctx context.Context, ev domain.TransferEvent) (*reconcile.ReconcileResult, error)
}

// providerEnvelope is the provider's webhook body
type providerEnvelope struct {
	Data struct {
		Resource struct {
			ID        json.Number `json:"id" validate:"required"`
			ProfileID json.Number `json:"profile_id" validate:"required"`
			Type      string      `json:"type"`
		} `json:"resource"`
		CurrentState  string    `json:"current_state"`
		PreviousState string    `json:"previous_state"`
		OccurredAt    time.Time `json:"occurred_at" validate:"required"`
	} `json:"data"`
	EventType     string    `json:"event_type" validate:"required"`
	SchemaVersion string    `json:"schema_version"`
	SentAt        time.Time `json:"sent_at"`
}

func (e *providerEnvelope) event() domain.TransferEvent {
	state := e.Data.CurrentState
	if state == "" && e.EventType == domain.EventTypeTransferRefund {
		state = domain.TransferStateFundsRefunded
	}
	return domain.TransferEvent{
		ResourceID:   e.Data.Resource.ID.String(),
		ProfileID:    e.Data.Resource.ProfileID.String(),
		CurrentState: state,
		OccurredAt:   e.Data.OccurredAt.UTC(),
		EventType:    e.EventType,
	}
}

// TransferHandler receives provider transfer events
type TransferHandler struct {
	processor EventProcessor
	publicKey *rsa.PublicKey
	validate  *validator.Validate
	logger    ports.Logger
}

// NewTransferHandler creates the webhook handler. A nil publicKey disables
// signature verification.
func NewTransferHandler(processor EventProcessor, publicKey *rsa.PublicKey, logger ports.Logger) *TransferHandler {
	return &TransferHandler{
		processor: processor,
		publicKey: publicKey,
		validate:  validator.New(),
		logger:    logger,
	}
}

// HandleTransferEvent handles POST /webhooks/transfers
func (h *TransferHandler) HandleTransferEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		response.Message(w, h.logger, http.StatusBadRequest, "unable to read body")
		return
	}

	if h.publicKey != nil {
		if err := crypto.VerifySHA256(h.publicKey, body, r.Header.Get(SignatureHeader)); err != nil {
			h.logger.Warn("rejected webhook with bad signature", ports.String("remote_addr", r.RemoteAddr))
			response.Message(w, h.logger, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var env providerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		response.Error(w, h.logger, domain.WrapError(domain.ErrorCodeMalformedEvent, "body is not a provider event", err))
		return
	}
	if err := h.validate.Struct(&env); err != nil {
		response.Error(w, h.logger, domain.WrapError(domain.ErrorCodeMalformedEvent, "provider event is incomplete", err))
		return
	}

	result, err := h.processor.Process(r.Context(), env.event())
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}

	response.JSON(w, h.logger, http.StatusOK, result)
}
