package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

// KYCApplier applies an external KYC decision to the account it concerns.
// Account state lives outside this module.
type KYCApplier interface {
	Apply(ctx context.Context, userID uuid.UUID, status string) error
}

type kycPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"`
}

// KYCHandler forwards {user_id, status} decisions from the KYC provider.
type KYCHandler struct {
	applier KYCApplier
	logger  logrus.FieldLogger
}

func NewKYCHandler(applier KYCApplier, logger logrus.FieldLogger) *KYCHandler {
	return &KYCHandler{
		applier: applier,
		logger:  logger.WithField("component", "webhook.kyc"),
	}
}

// LogKYCApplier records decisions without touching account state. The
// binaries use it while account management stays an external system.
type LogKYCApplier struct {
	logger logrus.FieldLogger
}

func NewLogKYCApplier(logger logrus.FieldLogger) *LogKYCApplier {
	return &LogKYCApplier{logger: logger.WithField("component", "webhook.kyc")}
}

func (a *LogKYCApplier) Apply(_ context.Context, userID uuid.UUID, status string) error {
	a.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	}).Info("kyc decision received")
	return nil
}

func (h *KYCHandler) Execute(ctx context.Context, rec *types.WebhookRecord) error {
	var p kycPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("decode kyc payload: %w", err)
	}
	if p.UserID == uuid.Nil || p.Status == "" {
		return nil
	}
	return h.applier.Apply(ctx, p.UserID, p.Status)
}
