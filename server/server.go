package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinrag/clinrag/internal/logging"
	"github.com/clinrag/clinrag/pkg/extract"
	"github.com/clinrag/clinrag/pkg/llm"
	"github.com/clinrag/clinrag/pkg/prompt"
	"github.com/clinrag/clinrag/pkg/retrieval"
)

// Message is the frame exchanged over the chat WebSocket.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	PatientID string `json:"patientId,omitempty"`
}

type Config struct {
	Addr          string
	ContextBudget int
	Streaming     bool
	// AllowedOrigins restricts WebSocket upgrades to these Origin header
	// values. Empty means any origin is accepted.
	AllowedOrigins []string
}

// Server exposes the retrieval pipeline over HTTP and WebSocket.
type Server struct {
	config     Config
	service    *retrieval.Service
	chatEngine *llm.ChatEngine
	extractor  extract.Extractor
	upgrader   websocket.Upgrader
}

func New(config Config, service *retrieval.Service, chatEngine *llm.ChatEngine) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ContextBudget == 0 {
		config.ContextBudget = prompt.DefaultContextBudget
	}

	s := &Server{
		config:     config,
		service:    service,
		chatEngine: chatEngine,
		extractor:  extract.NewWithConfig(extract.ExtractorConfig{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /patients/{id}/documents", s.handleAddDocument)
	mux.HandleFunc("POST /patients/{id}/uploads", s.handleUpload)
	mux.HandleFunc("POST /patients/{id}/query", s.handleQuery)
	mux.HandleFunc("GET /patients/{id}/stats", s.handleStats)
	mux.HandleFunc("DELETE /patients/{id}/documents", s.handleDeleteDocuments)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return s.withRequestID(mux)
}

func (s *Server) ListenAndServe() error {
	logging.Logger().Info("starting server", "addr", s.config.Addr)
	return http.ListenAndServe(s.config.Addr, s.Handler())
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		logging.Logger().Debug("request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type addDocumentRequest struct {
	DocumentName string `json:"documentName"`
	Content      string `json:"content"`
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := s.service.AddDocument(r.Context(), patientID, req.DocumentName, req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	text, err := s.extractor.Extract(header.Filename, data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := s.service.AddDocument(r.Context(), patientID, header.Filename, text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type queryResponse struct {
	Matches []matchPayload `json:"matches"`
	Context string         `json:"context"`
	Sources []string       `json:"sources"`
}

type matchPayload struct {
	ChunkID      string  `json:"chunkId"`
	Score        float32 `json:"score"`
	Content      string  `json:"content"`
	DocumentName string  `json:"documentName"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	matches := s.service.QueryRelevantContent(r.Context(), patientID, req.Query, req.TopK)
	grounding := prompt.BuildContext(matches, s.config.ContextBudget)

	resp := queryResponse{
		Matches: make([]matchPayload, 0, len(matches)),
		Context: grounding.Text,
		Sources: grounding.Sources,
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, matchPayload{
			ChunkID:      m.ChunkID,
			Score:        m.Score,
			Content:      m.Content,
			DocumentName: m.DocumentName,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.service.GetStats(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	removed := s.service.RemovePatientDocuments(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger().Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("invalid message: %v", err))
			continue
		}

		s.handleChatMessage(r, conn, msg)
	}
}

func (s *Server) handleChatMessage(r *http.Request, conn *websocket.Conn, msg Message) {
	if msg.PatientID == "" {
		s.sendMessage(conn, "error", "patientId is required")
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		s.sendMessage(conn, "error", "empty query")
		return
	}
	if s.chatEngine == nil {
		s.sendMessage(conn, "error", "chat is not configured")
		return
	}

	matches := s.service.QueryRelevantContent(r.Context(), msg.PatientID, msg.Content, 0)
	grounding := prompt.BuildContext(matches, s.config.ContextBudget)

	if len(grounding.Sources) > 0 {
		s.sendMessage(conn, "sources", strings.Join(grounding.Sources, ", "))
	}

	if s.config.Streaming {
		stream, err := s.chatEngine.ChatStream(r.Context(), msg.Content, grounding)
		if err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
			return
		}
		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				s.sendMessage(conn, "error", chunk)
				break
			}
			s.sendMessage(conn, "stream", chunk)
		}
		s.sendMessage(conn, "done", "")
	} else {
		response, err := s.chatEngine.Chat(r.Context(), msg.Content, grounding)
		if err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
			return
		}
		s.sendMessage(conn, "response", response)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		logging.Logger().Warn("failed to send websocket message", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
