package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/messaging"
	"github.com/pawtrait/storefront/internal/provider"
)

// Dispatcher drains the generation-dispatch topic and drives each job to a
// terminal state. Creation returns before any provider work happens; this
// worker is the only component that talks to the image provider.
type Dispatcher struct {
	bus         *messaging.MessageBus
	generations *GenerationService
	uploads     *UploadService
	provider    provider.Client
	logger      *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(bus *messaging.MessageBus, generations *GenerationService, uploads *UploadService, providerClient provider.Client, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		bus:         bus,
		generations: generations,
		uploads:     uploads,
		provider:    providerClient,
		logger:      logger,
	}
}

func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.bus.ConsumeMessages(ctx, d.handle); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.WithError(err).Error("Dispatcher consumer stopped")
		}
	}()
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) handle(msg messaging.DispatchMessage) error {
	ctx := context.Background()

	job, err := d.generations.GetJob(ctx, msg.GenerationID)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			d.logger.WithField("generation_id", msg.GenerationID).Warn("Dispatch message for unknown generation")
			return nil
		}
		return fmt.Errorf("failed to load generation: %w", err)
	}

	// Terminal jobs never reach the provider again, no matter how often the
	// message is redelivered.
	if IsTerminalStatus(job.Status) {
		return nil
	}

	if job.Status == GenerationStatusPending {
		if err := d.generations.MarkProcessing(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to mark processing: %w", err)
		}
	}

	upload, err := d.uploads.Get(ctx, msg.UploadID)
	if err != nil {
		d.fail(ctx, msg, "source upload unavailable")
		return nil
	}

	result, err := d.provider.Generate(ctx, provider.GenerateRequest{
		ImageURL: upload.ImageURL,
		StyleID:  msg.StyleID,
	})
	if err != nil {
		// Provider errors and timeouts are terminal for the job, not
		// retryable queue failures.
		d.logger.WithError(err).WithField("generation_id", msg.GenerationID).Warn("Provider call failed")
		d.fail(ctx, msg, "image generation failed")
		return nil
	}

	if err := d.generations.MarkReady(ctx, job.ID, result.OutputURLs); err != nil {
		return fmt.Errorf("failed to mark ready: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"generation_id": job.ID,
		"outputs":       len(result.OutputURLs),
	}).Info("Generation completed")

	return nil
}

func (d *Dispatcher) fail(ctx context.Context, msg messaging.DispatchMessage, summary string) {
	if err := d.generations.MarkFailed(ctx, msg.GenerationID, summary); err != nil {
		d.logger.WithError(err).WithField("generation_id", msg.GenerationID).Error("Failed to record generation failure")
	}
}
