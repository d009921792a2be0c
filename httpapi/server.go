// Package httpapi exposes an Instance over HTTP so that browser pages can
// display the sender's symbols and post symbols decoded by a camera.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opd-ai/qrxfer"
	"github.com/opd-ai/qrxfer/chunk"
	"github.com/opd-ai/qrxfer/limits"
	"github.com/opd-ai/qrxfer/qrcode"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/opd-ai/qrxfer/scan"
	"github.com/opd-ai/qrxfer/sender"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// MaxUploadSize bounds files posted to the sender.
const MaxUploadSize = 64 << 20

// missingReportThreshold is the progress from which status lists missing indices.
const missingReportThreshold = 90

// Server serves one Instance.
type Server struct {
	inst *qrxfer.Instance
	ctx  context.Context
}

// NewServer creates a server for inst. Autoplay runs started through the
// API end when ctx is cancelled.
func NewServer(ctx context.Context, inst *qrxfer.Instance) *Server {
	return &Server{inst: inst, ctx: ctx}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	send := r.PathPrefix("/api/send").Subrouter()
	send.HandleFunc("/file", s.selectFile).Methods(http.MethodPost)
	send.HandleFunc("/status", s.sendStatus).Methods(http.MethodGet)
	send.HandleFunc("/current", s.current).Methods(http.MethodGet)
	send.HandleFunc("/current.png", s.currentPNG).Methods(http.MethodGet)
	send.HandleFunc("/next", s.next).Methods(http.MethodPost)
	send.HandleFunc("/previous", s.previous).Methods(http.MethodPost)
	send.HandleFunc("/cursor/{index:[0-9]+}", s.setCursor).Methods(http.MethodPut)
	send.HandleFunc("/autoplay", s.startAutoplay).Methods(http.MethodPost)
	send.HandleFunc("/autoplay", s.stopAutoplay).Methods(http.MethodDelete)

	recv := r.PathPrefix("/api/receive").Subrouter()
	recv.HandleFunc("/scan", s.scan).Methods(http.MethodPost)
	recv.HandleFunc("/status", s.receiveStatus).Methods(http.MethodGet)
	recv.HandleFunc("/missing", s.missing).Methods(http.MethodGet)
	recv.HandleFunc("/reset", s.reset).Methods(http.MethodPost)
	recv.HandleFunc("/save", s.save).Methods(http.MethodPost)
	recv.HandleFunc("/file", s.download).Methods(http.MethodGet)

	return r
}

// Handler returns the router wrapped in CORS handling for allowedOrigins.
// An empty list allows every origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Filename"},
	})
	return c.Handler(s.Router())
}

type recordResponse struct {
	Cursor      int          `json:"cursor"`
	TotalChunks int          `json:"totalChunks"`
	Record      chunk.Record `json:"record"`
	Payload     string       `json:"payload"`
}

type sendStatusResponse struct {
	TransferID  string `json:"transferId"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"totalChunks"`
	Cursor      int    `json:"cursor"`
	Autoplay    bool   `json:"autoplay"`
}

type receiveStatusResponse struct {
	State    string             `json:"state"`
	Progress int                `json:"progress"`
	Accepted int                `json:"acceptedCount"`
	Metadata *receiver.Metadata `json:"metadata,omitempty"`
	Missing  []int              `json:"missing,omitempty"`
	Stats    scan.Stats         `json:"stats"`
}

type saveResponse struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Missing []int  `json:"missing,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) selectFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = r.Header.Get("X-Filename")
	}
	mimetype := r.Header.Get("Content-Type")
	if mimetype == "" || mimetype == "application/x-www-form-urlencoded" {
		mimetype = chunk.MimeTypeFor(filename)
	}

	if _, err := s.inst.SelectFile(data, filename, mimetype); err != nil {
		s.fail(w, "selectFile", err)
		return
	}
	s.sendStatus(w, r)
}

func (s *Server) sendStatus(w http.ResponseWriter, r *http.Request) {
	session := s.inst.Session()
	if session == nil {
		s.fail(w, "sendStatus", qrxfer.ErrNoFileSelected)
		return
	}
	current, err := session.Current()
	if err != nil {
		s.fail(w, "sendStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, sendStatusResponse{
		TransferID:  session.TransferID(),
		Filename:    current.Filename,
		TotalChunks: session.Len(),
		Cursor:      session.Cursor(),
		Autoplay:    s.inst.Autoplaying(),
	})
}

func (s *Server) current(w http.ResponseWriter, r *http.Request) {
	record, err := s.inst.Current()
	s.writeRecord(w, "current", record, err)
}

func (s *Server) currentPNG(w http.ResponseWriter, r *http.Request) {
	png, record, err := s.inst.CurrentSymbol()
	if err != nil {
		s.fail(w, "currentPNG", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Chunk-Index", strconv.Itoa(record.ChunkIndex))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	record, err := s.inst.Next()
	s.writeRecord(w, "next", record, err)
}

func (s *Server) previous(w http.ResponseWriter, r *http.Request) {
	record, err := s.inst.Previous()
	s.writeRecord(w, "previous", record, err)
}

func (s *Server) setCursor(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.inst.Goto(index)
	s.writeRecord(w, "setCursor", record, err)
}

func (s *Server) startAutoplay(w http.ResponseWriter, r *http.Request) {
	if err := s.inst.StartAutoplay(s.ctx); err != nil {
		s.fail(w, "startAutoplay", err)
		return
	}
	s.sendStatus(w, r)
}

func (s *Server) stopAutoplay(w http.ResponseWriter, r *http.Request) {
	s.inst.StopAutoplay()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRecord(w http.ResponseWriter, function string, record chunk.Record, err error) {
	if err != nil {
		s.fail(w, function, err)
		return
	}
	session := s.inst.Session()
	writeJSON(w, http.StatusOK, recordResponse{
		Cursor:      record.ChunkIndex,
		TotalChunks: session.Len(),
		Record:      record,
		Payload:     record.Payload(),
	})
}

// scan accepts one decoded payload as the request body and answers with the
// receive status once it has been processed.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limits.MaxPayloadSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := s.inst.Scan(r.Context(), string(body)); err != nil {
		s.fail(w, "scan", err)
		return
	}
	if err := s.inst.Flush(r.Context()); err != nil {
		s.fail(w, "scan", err)
		return
	}
	s.receiveStatus(w, r)
}

func (s *Server) receiveStatus(w http.ResponseWriter, r *http.Request) {
	buf := s.inst.Receiver()
	resp := receiveStatusResponse{
		State:    buf.State().String(),
		Progress: buf.Progress(),
		Accepted: buf.AcceptedCount(),
		Stats:    s.inst.Scanner().Stats(),
	}
	if meta, ok := buf.Metadata(); ok {
		resp.Metadata = &meta
	}
	if resp.Progress >= missingReportThreshold {
		resp.Missing = buf.MissingChunks()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) missing(w http.ResponseWriter, r *http.Request) {
	missing := s.inst.Receiver().MissingChunks()
	if missing == nil {
		missing = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"missing": missing})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.inst.ResetReceiver()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	path, result, err := s.inst.Save()
	if err != nil {
		s.fail(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{
		Path:    path,
		Size:    len(result.Data),
		Missing: result.Missing,
	})
}

// download streams the reconstructed file without saving it.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	result, err := s.inst.Receiver().Reconstruct()
	if err != nil {
		s.fail(w, "download", err)
		return
	}

	mimetype := result.Metadata.MimeType
	if mimetype == "" {
		mimetype = chunk.DefaultMimeType
	}
	w.Header().Set("Content-Type", mimetype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Metadata.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	if len(result.Missing) > 0 {
		w.Header().Set("X-Missing-Chunks", fmt.Sprint(result.Missing))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

func (s *Server) fail(w http.ResponseWriter, function string, err error) {
	status := statusFor(err)
	fields := logrus.Fields{
		"function": function,
		"status":   status,
		"error":    err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logrus.WithFields(fields).Error("Request failed")
	} else {
		logrus.WithFields(fields).Debug("Request rejected")
	}
	writeError(w, status, err)
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, qrxfer.ErrEmptyFile),
		errors.Is(err, sender.ErrInvalidIndex),
		errors.Is(err, chunk.ErrInvalidChunkSize):
		return http.StatusBadRequest
	case errors.Is(err, qrxfer.ErrNoFileSelected),
		errors.Is(err, receiver.ErrNotStarted):
		return http.StatusNotFound
	case errors.Is(err, receiver.ErrTooManyMissingChunks),
		errors.Is(err, receiver.ErrIncomplete):
		return http.StatusConflict
	case errors.Is(err, qrxfer.ErrChunkTooLarge),
		errors.Is(err, chunk.ErrTooManyChunks),
		errors.Is(err, qrcode.ErrRender):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scan.ErrClosed),
		errors.Is(err, qrxfer.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
