package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
)

const (
	GenerationDispatchTopic    = "generation-dispatch"
	GenerationDispatchDLQTopic = "generation-dispatch-dlq"
	ConsumerGroup              = "generation-dispatchers"
)

// DispatchMessage carries one generation job to the background dispatcher.
type DispatchMessage struct {
	GenerationID uuid.UUID `json:"generation_id"`
	UploadID     uuid.UUID `json:"upload_id"`
	StyleID      string    `json:"style_id"`
	Timestamp    time.Time `json:"timestamp"`
	RetryCount   int       `json:"retry_count"`
}

type MessageBus struct {
	writer    *kafka.Writer
	reader    *kafka.Reader
	dlqWriter *kafka.Writer
	logger    *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	topic := cfg.Kafka.Topics.GenerationDispatch
	if topic == "" {
		topic = GenerationDispatchTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        GenerationDispatchDLQTopic,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &MessageBus{
		writer:    writer,
		reader:    reader,
		dlqWriter: dlqWriter,
		logger:    logger,
	}, nil
}

func (mb *MessageBus) PublishDispatch(generationID, uploadID uuid.UUID, styleID string) error {
	message := DispatchMessage{
		GenerationID: generationID,
		UploadID:     uploadID,
		StyleID:      styleID,
		Timestamp:    time.Now(),
		RetryCount:   0,
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(generationID.String()),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "generation_id", Value: []byte(generationID.String())},
			{Key: "style_id", Value: []byte(styleID)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("generation_id", generationID).Error("Failed to publish message to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"generation_id": generationID,
		"style_id":      styleID,
	}).Info("Dispatch message published to Kafka")

	return nil
}

func (mb *MessageBus) ConsumeMessages(ctx context.Context, handler func(DispatchMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := mb.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mb.logger.WithError(err).Error("Failed to read message from Kafka")
				continue
			}

			var dispatch DispatchMessage
			if err := json.Unmarshal(message.Value, &dispatch); err != nil {
				mb.logger.WithError(err).Error("Failed to unmarshal Kafka message")
				continue
			}

			if err := mb.processWithRetry(ctx, dispatch, handler); err != nil {
				mb.logger.WithError(err).WithField("generation_id", dispatch.GenerationID).Error("Failed to process message after retries")

				if dlqErr := mb.sendToDLQ(ctx, dispatch, err); dlqErr != nil {
					mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
				}
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, message DispatchMessage, handler func(DispatchMessage) error) error {
	maxRetries := 3
	baseDelay := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"generation_id": message.GenerationID,
				"attempt":       attempt,
				"delay":         delay,
			}).Info("Retrying message processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		if err := handler(message); err != nil {
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"generation_id": message.GenerationID,
				"attempt":       attempt,
			}).Warn("Message processing failed")

			if attempt == maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message DispatchMessage, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": message,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(message.GenerationID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "generation_id", Value: []byte(message.GenerationID.String())},
			{Key: "original_topic", Value: []byte(GenerationDispatchTopic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"generation_id": message.GenerationID,
		"error":         originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (mb *MessageBus) Close() error {
	var errors []error

	if err := mb.writer.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := mb.reader.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errors)
	}

	return nil
}
