package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/config"
	"github.com/vetclaims/assistant-api/internal/db"
	"github.com/vetclaims/assistant-api/internal/prompt"
	"github.com/vetclaims/assistant-api/internal/quota"
)

type summaryJob struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

const (
	// a job gets maxDeliveries tries before it parks on the DLQ
	maxDeliveries = 3
	// per-message TTL on the retry queue, after which it dead-letters back
	// to the main queue
	retryDelay = "30000"
)

// deliveryCount reads how many times the broker has dead-lettered this
// message, i.e. how many retry hops it has taken. Missing or malformed
// x-death headers count as a first delivery.
func deliveryCount(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	n, _ := first["count"].(int64)
	return n
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := chat.NewRepo(gdb)
	ledger := quota.NewLedger(gdb)
	router := ai.NewRouter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.XAIBaseURL, cfg.XAIAPIKey)
	assembler := prompt.NewKBAssembler(gdb, nil)
	svc := chat.NewService(repo, ledger, router, assembler, cfg.ChatContextWindowSize)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	})
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	retryQueue := cfg.RabbitQueue + ".retry"
	_, err = ch.QueueDeclare(retryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue,
	})
	if err != nil {
		log.Fatalf("retry queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("summary worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var j summaryJob
				if err := json.Unmarshal(d.Body, &j); err != nil || j.UserID == "" || j.ConversationID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := svc.Summarize(ctx, j.UserID, j.ConversationID); err != nil {
					log.Printf("worker=%d summarize conv=%s failed cost=%s err=%v", workerID, j.ConversationID, time.Since(start), err)
					if deliveryCount(d) >= maxDeliveries-1 {
						_ = d.Nack(false, false) // retries exhausted, to the DLQ
						continue
					}
					// park on the retry queue; its TTL dead-letters the job
					// back to the main queue
					if perr := ch.PublishWithContext(ctx, "", retryQueue, false, false, amqp.Publishing{
						ContentType:  "application/json",
						DeliveryMode: amqp.Persistent,
						Body:         d.Body,
						Headers:      d.Headers,
						Expiration:   retryDelay,
					}); perr != nil {
						log.Printf("worker=%d retry publish conv=%s failed: %v", workerID, j.ConversationID, perr)
						_ = d.Nack(false, false)
						continue
					}
					_ = d.Ack(false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed conv=%s err=%v", workerID, j.ConversationID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
