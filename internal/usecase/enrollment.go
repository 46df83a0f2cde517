package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/gallery"
	"github.com/example/facegate/internal/logging"
)

// Enroll runs a capture through the spoof gate and commits it to the gallery
// under the normalized name. No embedding work happens here; embeddings are
// computed lazily per verification against the raw reference image.
func (uc *VerificationUseCase) Enroll(ctx context.Context, name string, image []byte) (*gallery.Identity, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", "")

	if !uc.gate.IsLive(image) {
		opLogger.Warn("spoof check rejected enrollment capture", zap.String("name", name))
		return nil, logging.NewOperationError("usecase.enroll", "", ErrSpoofRejected)
	}

	identity, err := uc.gallery.Enroll(name, image)
	if err != nil {
		opLogger.Warn("enrollment failed", zap.String("name", name), zap.Error(err))
		return nil, logging.NewOperationError("usecase.enroll", "", err)
	}

	opLogger.Info("enrollment complete",
		zap.String("name", identity.Name),
		zap.String("filename", identity.Filename),
	)
	return identity, nil
}
