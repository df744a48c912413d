// Command auditd is a thin demo binary wiring the audit-chain library
// surface behind a handful of HTTP routes, showing how an embedding
// service would call auditclient.Client (config load, signal-aware
// shutdown, chi routing). The core library itself stays transport-agnostic.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/ILLUVRSE/auditchain/internal/auditclient"
	"github.com/ILLUVRSE/auditchain/internal/config"
	"github.com/ILLUVRSE/auditchain/internal/crypto"
	"github.com/ILLUVRSE/auditchain/internal/model"
	"github.com/ILLUVRSE/auditchain/internal/notify"
	"github.com/ILLUVRSE/auditchain/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatalf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("ping postgres: %v", err)
	}
	cancel()
	log.Println("connected to postgres")

	signer, err := crypto.NewService(crypto.Config{
		Algorithm:     crypto.SignAlgorithm(cfg.Crypto.Algorithm),
		HashAlgorithm: crypto.HashAlgorithm(cfg.Crypto.HashAlgorithm),
		PrivateKeyPEM: cfg.Crypto.PrivateKeyPEM,
		PublicKeyPEM:  cfg.Crypto.PublicKeyPEM,
	})
	if err != nil {
		log.Fatalf("crypto service: %v", err)
	}

	pgStore := store.NewPGStore(db)

	var notifier notify.Notifier = notify.NoOp{}
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		topic := os.Getenv("KAFKA_TOPIC")
		if topic != "" {
			notifier = notify.NewKafkaNotifier(notify.KafkaConfig{
				Brokers: strings.Split(brokers, ","),
				Topic:   topic,
			})
			log.Printf("commit notifier configured (brokers=%s topic=%s)", brokers, topic)
		}
	}

	client := auditclient.New(pgStore, signer, cfg, notifier)
	defer client.Close()

	bgCtx, stopWorker := context.WithCancel(context.Background())
	go func() {
		if err := client.RunBacklogWorker(bgCtx); err != nil && err != context.Canceled {
			log.Printf("backlog worker stopped: %v", err)
		}
	}()

	router := chi.NewRouter()
	router.Post("/events", handleCreateEvent(client))
	router.Get("/events", handleQueryEvents(client))
	router.Get("/events/{id}", handleGetEvent(client))

	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		log.Printf("auditd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	stopWorker()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func handleCreateEvent(client *auditclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID     string                 `json:"projectId"`
			EnvironmentID string                 `json:"environmentId"`
			Action        string                 `json:"action"`
			CRUD          string                 `json:"crud"`
			ActorID       string                 `json:"actorId"`
			TargetID      string                 `json:"targetId"`
			Description   string                 `json:"description"`
			Fields        map[string]interface{} `json:"fields"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}

		ev := &model.Event{
			ProjectID:     req.ProjectID,
			EnvironmentID: req.EnvironmentID,
			Action:        req.Action,
			CRUD:          model.CRUD(req.CRUD),
			ActorID:       req.ActorID,
			TargetID:      req.TargetID,
			Description:   req.Description,
			Fields:        req.Fields,
		}

		committed, err := client.CreateEvent(r.Context(), ev)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, committed)
	}
}

func handleGetEvent(client *auditclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		projectID := r.URL.Query().Get("projectId")
		environmentID := r.URL.Query().Get("environmentId")
		ev, err := client.GetEvent(r.Context(), projectID, environmentID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

func handleQueryEvents(client *auditclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := model.QueryFilter{
			ProjectID:     q.Get("projectId"),
			EnvironmentID: q.Get("environmentId"),
			Action:        q.Get("action"),
			ActorID:       q.Get("actorId"),
			TargetID:      q.Get("targetId"),
		}
		page := model.Pagination{Cursor: q.Get("cursor")}

		result, err := client.QueryEvents(r.Context(), filter, page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}
