package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"mcap_candle_stream/internal/model"
	"mcap_candle_stream/internal/venue"

	"github.com/segmentio/kafka-go"
)

// Source consumes raw swap JSON from Kafka and hands normalized events to
// the pipeline. Real-time semantics are fire-and-forget: undecodable or
// unknown-venue messages are logged and skipped, never retried.
type Source struct {
	reader *kafka.Reader
	venues *venue.Registry
}

func NewSource(brokers []string, topic, group string, venues *venue.Registry) *Source {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Source{reader: reader, venues: venues}
}

// Run reads until ctx is cancelled, sending normalized events to out.
func (s *Source) Run(ctx context.Context, out chan<- model.SwapEvent) {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			log.Println("[ingest] Error fetching message:", err)
			continue
		}

		var raw venue.RawSwap
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			log.Println("[ingest] Error unmarshalling swap:", err)
			continue
		}

		ev, err := s.venues.Normalize(raw)
		if err != nil {
			log.Println("[ingest] Dropping swap:", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case out <- ev:
		}
	}
}

func (s *Source) Close() error {
	return s.reader.Close()
}
