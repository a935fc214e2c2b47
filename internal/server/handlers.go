package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/audit"
	"github.com/fraudshield/fraudshield/internal/model"
	"github.com/fraudshield/fraudshield/internal/scratch"
)

const (
	msgUnsupportedMedia = "Unsupported file type. Please upload an image or video file."
	msgUnsupportedAudio = "Unsupported file type. Please upload an audio file."
	msgEmptyText        = "Input text cannot be empty."
	msgTextTooLong      = "Input text is too long. Maximum 10,000 characters allowed."
	msgMissingFile      = "No file uploaded. Send it in the 'file' form field."
	msgBadForm          = "Malformed form body."
	msgTooLarge         = "Upload exceeds the maximum allowed size."
	msgTooManyRequests  = "Too many concurrent requests."
	msgProcessing       = "Error processing file."
	msgInternal         = "Internal server error."
	msgUnknownKind      = "Unknown model kind."

	maxFormMemory = 1 << 20
)

var (
	mediaTypes = []string{"image/jpeg", "image/png", "image/jpg", "video/mp4", "video/avi", "video/mov"}
	audioTypes = []string{"audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4"}
)

type phishingInput struct {
	Text string `validate:"required,notblank,max=10000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// validators.NotBlank only trims spaces; tabs and newlines count as blank too.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return validators.NotBlank(fl) && strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

type detailBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailBody{Detail: detail})
}

func (s *Server) handleDeepfake(w http.ResponseWriter, r *http.Request) {
	upload, contentType, ok := s.receiveUpload(w, r, mediaTypes, msgUnsupportedMedia)
	if !ok {
		return
	}
	defer s.discard(r, upload)

	start := time.Now()
	res := s.detector.Deepfake(r.Context(), upload.Path)
	s.audit.Emit(audit.BuildEvent(audit.FromDeepfake(RequestID(r.Context()), contentType, res, time.Since(start))))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	upload, contentType, ok := s.receiveUpload(w, r, audioTypes, msgUnsupportedAudio)
	if !ok {
		return
	}
	defer s.discard(r, upload)

	start := time.Now()
	res := s.detector.Voice(r.Context(), upload.Path)
	s.audit.Emit(audit.BuildEvent(audit.FromVoice(RequestID(r.Context()), contentType, res, time.Since(start))))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePhishing(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	if err := parseForm(r); err != nil {
		s.writeBodyError(w, r, err, msgBadForm)
		return
	}

	in := phishingInput{Text: r.PostFormValue("input_text")}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			writeDetail(w, http.StatusBadRequest, msgTextTooLong)
			return
		}
		writeDetail(w, http.StatusBadRequest, msgEmptyText)
		return
	}

	start := time.Now()
	res := s.detector.Phishing(r.Context(), in.Text)
	s.audit.Emit(audit.BuildEvent(audit.FromPhishing(RequestID(r.Context()), in.Text, s.preview, res, time.Since(start))))
	writeJSON(w, http.StatusOK, res)
}

type modelsBody struct {
	Models []model.Status `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsBody{Models: s.models.Status()})
}

// handleReload reloads one kind (form or query value "kind") or all of them.
// Load failures are reported through the returned status, not the HTTP code.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.FormValue("kind"))

	var err error
	switch {
	case kind == "":
		err = s.models.ReloadAll()
	case slices.Contains(model.Kinds, model.Kind(kind)):
		err = s.models.Reload(model.Kind(kind))
	default:
		writeDetail(w, http.StatusBadRequest, msgUnknownKind)
		return
	}
	if err != nil {
		log.WithFields(log.Fields{
			"request_id": RequestID(r.Context()),
			"kind":       kind,
		}).WithError(err).Warn("model reload failed")
	}
	writeJSON(w, http.StatusOK, modelsBody{Models: s.models.Status()})
}

// receiveUpload streams the "file" part of a multipart body into scratch
// storage. On failure it writes the response and returns ok=false.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request, allowed []string, unsupported string) (*scratch.File, string, bool) {
	s.limitBody(w, r)

	mr, err := r.MultipartReader()
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, msgMissingFile)
		return nil, "", false
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeDetail(w, http.StatusUnprocessableEntity, msgMissingFile)
			return nil, "", false
		}
		if err != nil {
			s.writeBodyError(w, r, err, msgBadForm)
			return nil, "", false
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		return s.savePart(w, r, part, allowed, unsupported)
	}
}

func (s *Server) savePart(w http.ResponseWriter, r *http.Request, part *multipart.Part, allowed []string, unsupported string) (*scratch.File, string, bool) {
	defer part.Close()

	contentType := normalizeMediaType(part.Header.Get("Content-Type"))
	if !slices.Contains(allowed, contentType) {
		writeDetail(w, http.StatusBadRequest, unsupported)
		return nil, "", false
	}

	f, err := s.scratch.Save(part, part.FileName())
	if err != nil {
		s.writeBodyError(w, r, err, msgProcessing)
		return nil, "", false
	}
	return f, contentType, true
}

func (s *Server) discard(r *http.Request, f *scratch.File) {
	if err := f.Remove(); err != nil {
		log.WithField("request_id", RequestID(r.Context())).WithError(err).Warn("remove upload")
	}
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
}

// writeBodyError maps request body failures: size limits are 413, scratch
// I/O is 500, anything else the client sent is 400 with fallback.
func (s *Server) writeBodyError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, scratch.ErrTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, msgTooLarge)
	case fallback == msgProcessing:
		log.WithField("request_id", RequestID(r.Context())).WithError(err).Error("store upload")
		writeDetail(w, http.StatusInternalServerError, msgProcessing)
	default:
		writeDetail(w, http.StatusBadRequest, fallback)
	}
}

func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

func normalizeMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
