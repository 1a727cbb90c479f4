package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcap_candle_stream/internal/aggregator"
	"mcap_candle_stream/internal/backpressure"
	"mcap_candle_stream/internal/bus"
	"mcap_candle_stream/internal/config"
	"mcap_candle_stream/internal/httpApi"
	"mcap_candle_stream/internal/ingest"
	"mcap_candle_stream/internal/model"
	"mcap_candle_stream/internal/venue"
	"mcap_candle_stream/internal/webSocket"

	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	// initialize all parts; the bus never fails, it falls back
	msgBus := bus.Connect(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	ctrl := backpressure.NewController(backpressure.Config{
		MaxQueueSize:    cfg.MaxQueueSize,
		MaxQueueBytes:   cfg.MaxQueueBytes,
		DropThreshold:   cfg.DropThreshold,
		MinSendInterval: cfg.MinSendInterval,
		HealthFloor:     cfg.HealthFloor,
	})
	// Indicator engines precompute off finished bars; the freshest closed
	// candle per stream is kept in the short-TTL cache for them.
	onClose := func(token string, tf time.Duration, c model.Candle) {
		payload, err := json.Marshal(c)
		if err != nil {
			return
		}
		key := "last_closed:" + model.CandleChannel(token, tf.Milliseconds())
		msgBus.CacheSet(key, string(payload), time.Hour)
	}
	reg := aggregator.NewRegistry(msgBus, aggregator.Config{
		Timeframes:    cfg.Timeframes,
		HistorySize:   cfg.HistorySize,
		DefaultSupply: cfg.DefaultSupply,
		SupplyTTL:     cfg.SupplyTTL,
	}, onClose)
	wsHub := webSocket.NewHub(msgBus, ctrl)

	events := make(chan model.SwapEvent, 8192) // buffer size 2^13
	ctx, cancel := context.WithCancel(context.Background())

	if len(cfg.KafkaBrokers) > 0 {
		log.Println("[boot] Consuming swaps from kafka:", cfg.KafkaBrokers)
		src := ingest.NewSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, venue.Default())
		defer func() {
			if err := src.Close(); err != nil {
				log.Println("[shutdown] Error closing kafka reader:", err)
			}
		}()
		go src.Run(ctx, events)
	} else {
		log.Println("[boot] No kafka brokers configured, starting demo producer")
		go DemoProducer(ctx, events)
	}

	// main loop
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				reg.ProcessSwap(ev)
			}
		}
	}()

	// start webSocket reaper
	go wsHub.ReapDead()

	// start http server
	server := httpApi.NewServer(reg, wsHub)
	srv := &http.Server{
		Addr:         cfg.HttpAddr,
		Handler:      server,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
	}
	go func() {
		log.Println("[boot] Starting http server on", cfg.HttpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("[fatal err] HTTP server failed:", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("[shutdown] Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("[shutdown] HTTP server shutdown error:", err)
	}
	ctrl.Close()
	msgBus.Close()
	log.Println("[shutdown] Shutdown complete")
}

// DemoProducer generates swap events and sends them to the provided channel
// at a fixed interval using a ticker.
func DemoProducer(ctx context.Context, out chan<- model.SwapEvent) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()

	tokens := []string{"So11111111111111111111111111111111111111112", "BONKfA9xW5dGm3Kd3xQpSwap11111111111111111111", "WIFdR7PumpFunDemo111111111111111111111111111"}
	venues := []model.Venue{model.VenueRaydium, model.VenuePumpFun, model.VenueOrca}
	id := 0

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			id++
			price := 0.01 * (1 + 0.2*math.Sin(float64(id)/50))
			ev := model.SwapEvent{
				Signature:    uuid.NewString(),
				Timestamp:    now.UnixMilli(),
				Source:       venues[id%len(venues)],
				Side:         model.Sides[id%2],
				TokenAddress: tokens[id%len(tokens)],
				AmountToken:  1000 + float64(id%500),
				AmountBase:   0.5,
				PriceUSD:     price,
				Trader:       "demo-" + uuid.NewString()[:8],
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
