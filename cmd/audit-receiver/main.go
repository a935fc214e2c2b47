// Command audit-receiver is a development sink for FraudShield's audit
// webhook. It logs every event it receives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/audit"
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for the audit receiver")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Infof("audit receiver listening on %s (POST JSON to /audit)", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audit", handleEvent)
	mux.HandleFunc("POST /{$}", handleEvent)
	return mux
}

func handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var ev audit.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.WithError(err).WithField("len", len(body)).Warn("received malformed audit event")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	log.WithFields(log.Fields{
		"request_id":    ev.RequestID,
		"header_id":     r.Header.Get("X-Request-ID"),
		"kind":          ev.Kind,
		"status":        ev.Status,
		"source":        ev.Source,
		"verdict":       ev.Verdict,
		"score":         ev.Score,
		"latency_ms":    ev.LatencyMs,
		"error_code":    ev.ErrorCode,
		"input_preview": ev.InputPreview,
	}).Info("received audit event")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}
