package main

import (
	"context"
	"errors"
	"github.com/go-redis/redis/v7"
	"github.com/labstack/gommon/log"
	"os"
	"os/signal"
	"syncstream.me/api"
	"syncstream.me/config"
	"syncstream.me/model"
	"syncstream.me/party"
	"syncstream.me/pkg/conference"
	"syncstream.me/pkg/llm"
	"syncstream.me/pkg/msgbroker"
	"syncstream.me/storage"
	"syscall"
	"time"
)

func main() {
	// APP configuration
	c := config.Get()
	log.SetLevel(c.Level())

	// Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	err := rdb.Ping().Err()
	if err != nil {
		log.Fatal(err)
	}

	// Storage
	s := storage.New(rdb)
	// Message broker
	mb := msgbroker.NewRedisBroker(rdb)

	// LLM adapters, the url rules still work without them
	var gen llm.Generator
	gemini, err := llm.NewGemini(context.Background(), c.GeminiAPIKey, c.GeminiModel)
	switch {
	case errors.Is(err, model.ErrUnconfigured):
		log.Warn("GEMINI_API_KEY is not set, video url resolving falls back to rules and recommendations are disabled")
	case err != nil:
		log.Fatal(err)
	default:
		log.Infof("llm adapters use %s", gemini.Name())
		gen = gemini
	}
	adapter := llm.New(gen)

	// Conferencing
	bridge := conference.New(c.LiveKitAPIKey, c.LiveKitAPISecret, c.LiveKitURL, c.LiveKitTokenTTL)
	if !bridge.Configured() {
		log.Warn("LIVEKIT_API_KEY or LIVEKIT_API_SECRET is not set, conferencing is disabled")
	}

	service := party.NewService(s, mb, party.Options{
		SessionIDLength:    c.SessionIDLength,
		EnforceHostControl: c.EnforceHostControl,
		Resolver:           adapter,
	})
	feed := party.NewFeed(mb, c.MaxWorkers)

	// API
	a := api.New(c, service, feed, bridge, adapter)

	go func() {
		// Starting API
		if err := a.Start(); err != nil {
			log.Fatal(err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	// waiting for signals
	quit := <-signals
	log.Infof("signal %s received, stopping server...", quit)
	// Stopping server
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	if err = a.Close(ctx); err != nil {
		log.Error(err)
	}
	cancel()

	if err = mb.Close(); err != nil {
		log.Error(err)
	}
	if err = rdb.Close(); err != nil {
		log.Error(err)
	}
}
