package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/repair"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// Messages of the transcription route.
const (
	msgMissingAudio     = "Missing audio file for transcription."
	msgEmptyTranscript  = "Transcription returned empty text."
	msgSTTNotConfigured = "Transcription is not configured."
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// analyzeRequest is the body of POST /v1/analyze. Prompt is accepted as an
// alias of Transcript.
type analyzeRequest struct {
	Transcript string `json:"transcript"`
	Prompt     string `json:"prompt"`
	PatientID  string `json:"patientId"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text := req.Transcript
	if text == "" {
		text = req.Prompt
	}
	res := s.analyzer.Analyze(r.Context(), analysis.Request{
		OwnerID:    OwnerFrom(r.Context()),
		PatientID:  req.PatientID,
		Transcript: text,
	})
	writeJSON(w, StatusFor(res.Kind), res)
}

type cleanRequest struct {
	Transcript string `json:"transcript"`
}

type cleanResponse struct {
	Original    string       `json:"original"`
	Corrected   string       `json:"corrected"`
	Corrections []correction `json:"corrections"`
}

type correction struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	var req cleanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, analysis.KindInput.Message(), "")
		return
	}
	ct := s.analyzer.Clean(req.Transcript)
	resp := cleanResponse{
		Original:    ct.Original,
		Corrected:   ct.Corrected,
		Corrections: make([]correction, len(ct.Corrections)),
	}
	for i, c := range ct.Corrections {
		resp.Corrections[i] = correction{From: c.Original, To: c.Corrected, Method: c.Method, Confidence: c.Confidence}
	}
	writeJSON(w, http.StatusOK, resp)
}

// transcribeResponse is the body of POST /v1/transcribe. Analysis is set
// when ?analyze=true.
type transcribeResponse struct {
	Text     string           `json:"text"`
	Analysis *analysis.Result `json:"analysis,omitempty"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeError(w, http.StatusNotImplemented, msgSTTNotConfigured, "")
		return
	}
	analyze, _ := strconv.ParseBool(r.URL.Query().Get("analyze"))

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
		case errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, msgMissingAudio, "")
		default:
			writeError(w, http.StatusBadRequest, "Invalid multipart form", err.Error())
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMissingAudio, "")
		return
	}
	defer file.Close()

	opts := s.sttOptions
	if lang := r.FormValue("language"); lang != "" {
		opts.Language = lang
	}

	ctx, span := observe.StartSpan(r.Context(), "api.transcribe")
	start := time.Now()
	result, err := s.stt.Transcribe(ctx, stt.Audio{
		Data:        file,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
	}, opts)
	s.metrics.RecordProviderRequest(ctx, s.sttName, "stt", time.Since(start), err)
	observe.EndSpan(span, err)

	switch {
	case errors.Is(err, stt.ErrEmptyTranscript):
		writeError(w, http.StatusBadGateway, msgEmptyTranscript, "")
		return
	case err != nil:
		observe.Logger(ctx).Warn("transcription failed", "provider", s.sttName, "err", err)
		writeError(w, http.StatusBadGateway, analysis.KindUpstream.Message(), repair.Preview(err.Error()))
		return
	case result == nil || strings.TrimSpace(result.Text) == "":
		writeError(w, http.StatusBadGateway, msgEmptyTranscript, "")
		return
	}

	resp := transcribeResponse{Text: result.Text}
	if !analyze {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	res := s.analyzer.Analyze(r.Context(), analysis.Request{
		OwnerID:    OwnerFrom(r.Context()),
		PatientID:  r.FormValue("patientId"),
		Transcript: result.Text,
	})
	resp.Analysis = &res
	writeJSON(w, StatusFor(res.Kind), resp)
}
