package main

import (
	"log"

	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/config"
	"github.com/vetclaims/assistant-api/internal/db"
	"github.com/vetclaims/assistant-api/internal/httpapi"
	"github.com/vetclaims/assistant-api/internal/prompt"
	"github.com/vetclaims/assistant-api/internal/quota"
	"github.com/vetclaims/assistant-api/internal/store/rabbitmq"
	"github.com/vetclaims/assistant-api/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(
		&chat.Message{},
		&chat.Summary{},
		&quota.Record{},
		&quota.Subscription{},
		&prompt.Article{},
		&prompt.DatasetRecord{},
	); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	cache := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer cache.Close()

	// Summarization is best-effort: run without the queue if rabbit is down.
	var publisher chat.SummaryPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbit unavailable, summaries disabled: %v", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	r := httpapi.NewRouter(gdb, cfg, cache, publisher)

	log.Printf("listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
