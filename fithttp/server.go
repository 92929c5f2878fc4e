// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fithttp exposes a fitsync document backend over HTTP and provides
// the matching client. Documents are partitioned by the authenticated user.
package fithttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/auth"
)

// Error codes of the JSON error envelope
const (
	CodeUnauthorized      = "authentication_failed"
	CodeUnknownCollection = "unknown_collection"
	CodeInvalidDocument   = "invalid_document"
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
)

const defaultMaxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateResponse is returned by document creation
type CreateResponse struct {
	ID string `json:"id"`
}

// ListResponse is returned by document listing
type ListResponse struct {
	Documents []fitsync.RemoteDocument `json:"documents"`
}

// ServerConfig configures the document API
type ServerConfig struct {
	Collections  []string // Names served under /v1/{collection}
	MaxBodyBytes int64    // Request body limit, default 1 MiB
	LogRequests  bool     // Log every request and its status
}

// Server serves the document API over a fitsync.Backend
type Server struct {
	backend     fitsync.Backend
	auth        *JWTAuth
	collections map[string]struct{}
	config      *ServerConfig
	logger      *slog.Logger
}

// NewServer creates the document API handlers
func NewServer(backend fitsync.Backend, jwtAuth *JWTAuth, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if jwtAuth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if config == nil || len(config.Collections) == 0 {
		return nil, fmt.Errorf("at least one collection must be registered")
	}
	if logger == nil {
		logger = slog.Default()
	}
	collections := make(map[string]struct{}, len(config.Collections))
	for _, name := range config.Collections {
		if name == "" {
			return nil, fmt.Errorf("collection name cannot be empty")
		}
		collections[name] = struct{}{}
	}
	return &Server{
		backend:     backend,
		auth:        jwtAuth,
		collections: collections,
		config:      config,
		logger:      logger,
	}, nil
}

// Collections returns the registered collection names, sorted
func (s *Server) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)

	authed := func(h http.HandlerFunc) http.Handler {
		return LoggingMiddleware(s.config.LogRequests, s.auth.Middleware(h), s.logger)
	}
	mux.Handle("POST /v1/{collection}/documents", authed(s.handleCreate))
	mux.Handle("GET /v1/{collection}/documents", authed(s.handleList))
	mux.Handle("GET /v1/{collection}/documents/{id}", authed(s.handleGet))
	mux.Handle("PUT /v1/{collection}/documents/{id}", authed(s.handlePut))
	mux.Handle("PATCH /v1/{collection}/documents/{id}", authed(s.handleUpdate))
	mux.Handle("DELETE /v1/{collection}/documents/{id}", authed(s.handleDelete))
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "fitsync"}`))
}

// resolve returns the caller and the requested collection, writing the
// error response itself when either is missing
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (string, fitsync.RemoteStore, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, s.logger, http.StatusUnauthorized, CodeUnauthorized, "missing user")
		return "", nil, false
	}
	name := r.PathValue("collection")
	if _, ok := s.collections[name]; !ok {
		writeError(w, s.logger, http.StatusNotFound, CodeUnknownCollection, fmt.Sprintf("collection %q is not registered", name))
		return "", nil, false
	}
	return userID, s.backend.Collection(name), true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	id, err := coll.Create(r.Context(), userID, doc)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, CreateResponse{ID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	docs, err := coll.List(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, ListResponse{Documents: docs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	doc, err := coll.Get(r.Context(), userID, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, fitsync.RemoteDocument{ID: id, Document: doc})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	if err := coll.Put(r.Context(), userID, r.PathValue("id"), doc); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	if err := coll.Update(r.Context(), userID, r.PathValue("id"), doc); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, coll, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if err := coll.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (fitsync.Document, bool) {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, s.logger, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body too large")
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc fitsync.Document
	if err := dec.Decode(&doc); err != nil || doc == nil {
		writeError(w, s.logger, http.StatusBadRequest, CodeInvalidDocument, "body must be a JSON object")
		return nil, false
	}
	if err := doc.Validate(); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, CodeInvalidDocument, err.Error())
		return nil, false
	}
	return doc, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fitsync.ErrNotFound):
		writeError(w, s.logger, http.StatusNotFound, CodeNotFound, "document not found")
	case errors.Is(err, fitsync.ErrInvalidDocument):
		writeError(w, s.logger, http.StatusBadRequest, CodeInvalidDocument, err.Error())
	default:
		s.logger.Error("Document store failure", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, CodeInternal, "document store failure")
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})

	logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
