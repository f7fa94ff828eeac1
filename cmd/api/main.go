package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/export"
	"negotiation-scoring-go/internal/ingest"
	"negotiation-scoring-go/internal/llm"
	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/pipeline"
	"negotiation-scoring-go/internal/storage"
	"negotiation-scoring-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "negotiation-scoring-go").Info("starting service")

	cfg := config.FromEnv()
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.WithField("problem", e).Error("configuration error")
		}
		log.Fatal("invalid configuration")
	}

	backend, err := storage.NewFilesystem(cfg.StoragePath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize storage")
	}

	pipe, err := pipeline.New(cfg, llm.NewGatewayClient(cfg))
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})

	// score endpoint: the transport layer posts a completed session's raw
	// transcript, inline or by URL
	mux.HandleFunc("/score", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "score")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		raw, err := readTranscript(r.Context(), body)
		if err != nil {
			reqLog.WithError(err).Warn("rejecting transcript")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqLog = reqLog.WithField("session_id", raw.SessionID)

		if _, err := backend.SaveTranscript(raw); err != nil {
			reqLog.WithError(err).Error("failed to persist transcript")
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}

		start := time.Now()
		report, err := pipe.Run(r.Context(), raw)
		if err != nil {
			// only structural input errors surface here
			reqLog.WithError(err).Warn("scoring rejected transcript")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqLog.WithField("duration_ms", time.Since(start).Milliseconds()).
			WithField("letter_grade", report.LetterGrade).Info("scoring finished")

		location, err := backend.SaveReport(report)
		if err != nil {
			reqLog.WithError(err).Error("failed to persist report")
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Report-Location", location)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			reqLog.WithError(err).Error("failed to write response")
		}
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "report")
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}
		report, err := backend.LoadReport(sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		if err != nil {
			reqLog.WithError(err).Error("failed to load report")
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			reqLog.WithError(err).Error("failed to write response")
		}
	})

	// export endpoint: xlsx summary of every stored report
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "export")
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="reports.xlsx"`)
		if err := export.WriteSummary(backend, w); err != nil {
			reqLog.WithError(err).Error("export failed")
			http.Error(w, "export error", http.StatusInternalServerError)
		}
	})

	addr := fmt.Sprintf(":%s", envOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// readTranscript accepts either an inline RawTranscript document or a
// {"transcript_url": "..."} reference published by the transport layer.
func readTranscript(ctx context.Context, body []byte) (types.RawTranscript, error) {
	var ref struct {
		TranscriptURL string `json:"transcript_url"`
	}
	if err := json.Unmarshal(body, &ref); err == nil && ref.TranscriptURL != "" {
		return ingest.Fetch(ctx, ref.TranscriptURL)
	}
	return ingest.Parse(body)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
