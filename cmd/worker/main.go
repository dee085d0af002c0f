package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/config"
	"github.com/alpinesboltltd/ticketflow/internal/llm"
	"github.com/alpinesboltltd/ticketflow/internal/provider/smtp"
	"github.com/alpinesboltltd/ticketflow/internal/repository"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
	"github.com/alpinesboltltd/ticketflow/internal/worker"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
	"github.com/alpinesboltltd/ticketflow/internal/workflow/agent"
	"github.com/alpinesboltltd/ticketflow/internal/workflow/legacy"
)

func main() {
	godotenv.Load(".env")
	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal(err)
	}

	db, err := repository.InitDB(cfg.DATABASE_URL)
	if err != nil {
		log.Fatal("failed to initialize database:", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database handle:", err)
	}
	defer sqlDB.Close()

	br, err := broker.NewAMQPBroker(cfg.RabbitMQURL, cfg.QueueName, cfg.DLXName, cfg.PrefetchCount)
	if err != nil {
		log.Fatal("failed to connect to broker:", err)
	}
	defer br.Close()

	st := store.NewPostgresStore(db)

	mailer := smtp.NewClient(smtp.Config{Host: cfg.SMTP_HOST, Port: cfg.SMTP_PORT, User: cfg.SMTP_USER, Pass: cfg.SMTP_PASS})
	catalog := tool.NewCatalog(db, mailer)
	llmClient := llm.NewAnthropicClient(cfg.ANTHROPIC_API_KEY, "", cfg.LLMTimeoutSeconds, cfg.LLMMaxRetries)

	var runner workflow.Runner
	if cfg.UseAgentWorkflow {
		runner = agent.NewRunner(llmClient, catalog, cfg.MaxAgentIterations)
	} else {
		runner = legacy.NewRunner(llmClient, catalog)
	}

	w := worker.New(worker.Config{
		WorkerID:                 cfg.WorkerID,
		MaxRetries:               cfg.MaxRetries,
		HeartbeatInterval:        time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		StaleProcessingThreshold: time.Duration(cfg.StaleProcessingThresholdSeconds) * time.Second,
	}, st, br, runner)

	ctx, cancel := context.WithCancel(context.Background())

	reclaimDone := worker.StartStaleReclaim(ctx, st, br,
		time.Duration(cfg.HeartbeatIntervalSeconds)*time.Second,
		time.Duration(cfg.StaleProcessingThresholdSeconds)*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.Printf("worker goroutine %d starting", n)
			if err := w.Run(ctx); err != nil {
				log.Printf("worker goroutine %d exited: %v", n, err)
			}
		}(i)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down worker...")
	cancel()

	waitTimeout := 30 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("worker goroutines exited cleanly")
	case <-time.After(waitTimeout):
		log.Println("worker shutdown timed out")
	}
	<-reclaimDone
	log.Println("worker exited")
}
