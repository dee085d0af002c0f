package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/alpinesboltltd/ticketflow/internal/approval"
	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/config"
	"github.com/alpinesboltltd/ticketflow/internal/handler"
	"github.com/alpinesboltltd/ticketflow/internal/ingest"
	"github.com/alpinesboltltd/ticketflow/internal/provider/smtp"
	"github.com/alpinesboltltd/ticketflow/internal/repository"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
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

	ingestSvc := ingest.New(st, br)
	approvalSvc := approval.New(st, catalog)

	ticketH := handler.NewTicketHandler(ingestSvc, st)
	approvalH := handler.NewApprovalHandler(approvalSvc)
	webhookH := handler.NewWebhookHandler(ingestSvc)
	systemH := handler.NewSystemHandler()

	r := handler.NewRouter(ticketH, approvalH, webhookH, systemH)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("api server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down api server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown:", err)
	}
	log.Println("api server exited")
}
