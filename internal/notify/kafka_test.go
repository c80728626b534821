package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/models"
	"qtech-backend/internal/realtime"
)

func TestNewSaramaConfig(t *testing.T) {
	cfg := NewSaramaConfig(KafkaConfig{RetryMax: 5, Timeout: 3 * time.Second})
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.Equal(t, 5, cfg.Producer.Retry.Max)
	assert.NoError(t, cfg.Validate())
}

func TestKafkaProducer_Send(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var n Notification
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if n.QueueNumber != "REG-010" || n.Action != models.ActionCalled {
			return errors.New("unexpected notification")
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerFrom(mock, "queue-notifications")
	n := Notification{
		EventID:     "e1",
		Type:        realtime.EventQueueCalled,
		UserID:      4,
		QueueID:     10,
		QueueNumber: "REG-010",
		Action:      models.ActionCalled,
		OccurredAt:  time.Now(),
	}
	require.NoError(t, p.Send(context.Background(), n))

	err := p.Send(context.Background(), n)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, p.Close())
}
