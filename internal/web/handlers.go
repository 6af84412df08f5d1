package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/overlay"
	"github.com/andresmejia3/securiface/internal/pipeline"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

const mjpegBoundary = "frame"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type StatusResponse struct {
	State       string             `json:"state"`
	Loop        pipeline.LoopState `json:"loop"`
	GallerySize int                `json:"gallery_size"`
	PixelFormat string             `json:"pixel_format"`
}

func (s *Server) statusResponse() StatusResponse {
	return StatusResponse{
		State:       s.driver.State().String(),
		Loop:        s.driver.Status(),
		GallerySize: s.driver.Gallery().Len(),
		PixelFormat: overlay.PixelFormat,
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.statusResponse())
}

type StartRequest struct {
	Source string `json:"source"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Source == "" {
		req.Source = "0"
	}
	sel, err := capture.ParseSelector(req.Source)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.driver.Start(sel)
	var openErr *pipeline.SourceOpenError
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &openErr):
		respondError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusAccepted, s.statusResponse())
	}
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Stop(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	records, err := s.driver.Ledger().QueryAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// resetAttendance wipes the ledger. The caller must pass confirm=yes.
func (s *Server) resetAttendance(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		respondError(w, http.StatusBadRequest, "reset requires confirm=yes")
		return
	}
	if err := s.driver.Ledger().Reset(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Warning("attendance ledger reset over http", logger.LoggerOptions{Key: "remote", Data: r.RemoteAddr})
	w.WriteHeader(http.StatusNoContent)
}

type SummaryResponse struct {
	attendance.Summary
	LastEntryDisplay string `json:"last_entry_display"`
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	records, err := s.driver.Ledger().QueryAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sum := attendance.Summarize(records, s.driver.Gallery().Len(), time.Now())
	respondJSON(w, http.StatusOK, SummaryResponse{Summary: sum, LastEntryDisplay: sum.LastEntryOrPlaceholder()})
}

// events streams loop events as SSE until the client disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b := s.driver.Events()
	eventCh := b.AddListener()
	defer b.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", s.statusResponse())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// stream serves annotated frames as multipart MJPEG, one part per published frame.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var seq uint64
	var buf bytes.Buffer
	for {
		frame, next, err := s.frames.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		buf.Reset()
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
			logger.Error("mjpeg encode failed", logger.LoggerOptions{Key: "error", Data: err})
			return
		}
		header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %s\r\n\r\n",
			mjpegBoundary, strconv.Itoa(buf.Len()))
		if _, err := io.WriteString(w, header); err != nil {
			return
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
