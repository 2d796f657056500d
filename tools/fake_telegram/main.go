package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeTelegram mimics the sendMessage call of the Bot API so that alert
// delivery can be exercised without a real bot.
type fakeTelegram struct {
	token    string
	latency  time.Duration
	failRate float64
	rnd      *rand.Rand
	logger   logrus.FieldLogger

	mu       sync.Mutex
	messages []message
	failures int64
}

type message struct {
	ChatID     string    `json:"chatId"`
	Text       string    `json:"text"`
	ParseMode  string    `json:"parseMode"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func main() {
	logger := logrus.New()
	srv := newFakeTelegram(
		getenvDefault("FAKE_TELEGRAM_TOKEN", ""),
		time.Duration(getenvIntDefault("FAKE_TELEGRAM_LATENCY_MS", 0))*time.Millisecond,
		getenvFloatDefault("FAKE_TELEGRAM_FAIL_RATE", 0),
		logger,
	)
	addr := getenvDefault("FAKE_TELEGRAM_ADDR", ":18081")
	logger.WithField("addr", addr).Info("fake telegram listening")
	logger.Fatal(http.ListenAndServe(addr, srv.routes()))
}

func newFakeTelegram(token string, latency time.Duration, failRate float64, logger logrus.FieldLogger) *fakeTelegram {
	return &fakeTelegram{
		token:    token,
		latency:  latency,
		failRate: failRate,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}
}

func (s *fakeTelegram) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/", s.handleBot)
	return mux
}

// handleBot serves POST /bot{token}/sendMessage.
func (s *fakeTelegram) handleBot(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/bot")
	token, method, ok := strings.Cut(path, "/")
	if !ok || path == r.URL.Path || method != "sendMessage" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.token != "" && token != s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "description": "Unauthorized"})
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "description": "Bad Request: message text is empty"})
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.shouldFail() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "description": "Too Many Requests: retry after 1"})
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, message{ChatID: req.ChatID, Text: req.Text, ParseMode: req.ParseMode, ReceivedAt: time.Now().UTC()})
	id := len(s.messages)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"chat": req.ChatID, "id": id}).Info("message received")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"message_id": id}})
}

// handleMessages lists received messages.
func (s *fakeTelegram) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	out := append([]message(nil), s.messages...)
	failures := s.failures
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"messages": out, "failures": failures})
}

func (s *fakeTelegram) shouldFail() bool {
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rnd.Float64() < s.failRate {
		s.failures++
		return true
	}
	return false
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
