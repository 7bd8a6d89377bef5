package dream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

// maxAudioUpload caps dream recordings at 25MB, the Whisper API limit.
const maxAudioUpload = 25 << 20

// Handler wires HTTP requests to the dream pipeline.
type Handler struct {
	runner      *Runner
	pipeline    *Pipeline
	transcriber *Transcriber
	ingestor    Ingestor
	logger      *logging.Logger
}

// NewHandler creates a dream handler. ingestor may be nil when no knowledge
// index is configured; the admin endpoint then returns 503.
func NewHandler(runner *Runner, pipeline *Pipeline, transcriber *Transcriber, ingestor Ingestor, logger *logging.Logger) *Handler {
	if runner == nil {
		panic("dream: runner cannot be nil")
	}
	if pipeline == nil {
		panic("dream: pipeline cannot be nil")
	}
	if transcriber == nil {
		panic("dream: transcriber cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		runner:      runner,
		pipeline:    pipeline,
		transcriber: transcriber,
		ingestor:    ingestor,
		logger:      logger,
	}
}

// Submit handles POST /dreams. It accepts either a multipart form with an
// "audio" file or a JSON body {"text": "..."}, queues the pipeline run, and
// answers 202 with the session ID.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	input, err := h.readSubmission(r)
	if err != nil {
		h.logger.Error("failed to read dream submission", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.Empty() {
		http.Error(w, "Submission requires audio or text", http.StatusBadRequest)
		return
	}

	sessionID, err := h.runner.Submit(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrRunnerClosed) {
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to queue dream submission", "error", err)
		http.Error(w, "Failed to queue submission", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sessionID})
}

// GetSession handles GET /dreams/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.pipeline.Store().Load(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// Resume handles POST /dreams/{sessionID}/resume: re-runs a failed session
// from its retained transcript.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.pipeline.Resume(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, ErrEmptyInput):
			http.Error(w, "Session has no transcript to resume from", http.StatusConflict)
		default:
			h.logger.Error("failed to resume session", "session_id", sessionID, "error", err)
			http.Error(w, "Failed to resume session", http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// RenderImage handles POST /dreams/{sessionID}/images/{variant}.
func (h *Handler) RenderImage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	variant := Variant(chi.URLParam(r, "variant"))
	if variant != VariantNightmare && variant != VariantReconstructed {
		http.Error(w, "Unknown image variant", http.StatusBadRequest)
		return
	}

	session, err := h.pipeline.RenderVariant(r.Context(), sessionID, variant)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to re-render image", "session_id", sessionID, "variant", string(variant), "error", err)
		http.Error(w, "Failed to render image", http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// Transcribe handles POST /transcriptions: standalone speech-to-text without
// starting a pipeline run.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := h.readAudio(r)
	if err != nil {
		h.logger.Error("failed to read transcription upload", "error", err)
		http.Error(w, "Invalid audio upload", http.StatusBadRequest)
		return
	}

	text, err := h.transcriber.Transcribe(r.Context(), audio, filename)
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			http.Error(w, "Audio upload is empty", http.StatusBadRequest)
			return
		}
		h.logger.Error("transcription failed", "error", err)
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// AddKnowledge handles POST /admin/knowledge: indexes professional passages
// for retrieval-grounded analysis.
func (h *Handler) AddKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		http.Error(w, "Knowledge index is not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Documents []string `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode knowledge request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	docs := make([]string, 0, len(req.Documents))
	for _, d := range req.Documents {
		if strings.TrimSpace(d) != "" {
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		http.Error(w, "No documents provided", http.StatusBadRequest)
		return
	}

	if err := h.ingestor.AddDocuments(r.Context(), docs); err != nil {
		h.logger.Error("failed to index knowledge documents", "error", err)
		http.Error(w, "Failed to index documents", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int{"indexed": len(docs)})
}

func (h *Handler) readSubmission(r *http.Request) (Submission, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		audio, filename, err := h.readAudio(r)
		if err != nil {
			return Submission{}, err
		}
		return Submission{
			Audio:    audio,
			Filename: filename,
			Text:     r.FormValue("text"),
		}, nil
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return Submission{}, err
	}
	return Submission{Text: req.Text}, nil
}

func (h *Handler) readAudio(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		return nil, "", err
	}
	return audio, header.Filename, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
