package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaPublisherSendsJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got struct {
			Type    string `json:"type"`
			Payload struct {
				ID string `json:"id"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Type != ListingPublished || got.Payload.ID != "abc" {
			return errors.New("unexpected event body: " + string(val))
		}
		return nil
	})

	p := NewKafkaPublisher(producer, "listings")
	err := p.Publish(context.Background(), Event{
		Type:    ListingPublished,
		Key:     "abc",
		At:      time.Now(),
		Payload: map[string]string{"id": "abc"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestKafkaPublisherReturnsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer, "listings")
	err := p.Publish(context.Background(), Event{Type: CycleCompleted})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Publish: got %v, want ErrOutOfBrokers", err)
	}
	_ = p.Close()
}

func TestRecorderFiltersByType(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.Publish(ctx, Event{Type: ListingPublished})
	_ = r.Publish(ctx, Event{Type: CycleCompleted})
	_ = r.Publish(ctx, Event{Type: ListingPublished})

	if n := len(r.Events(ListingPublished)); n != 2 {
		t.Errorf("published events: got %d, want 2", n)
	}
	if n := len(r.Events("")); n != 3 {
		t.Errorf("all events: got %d, want 3", n)
	}
}
