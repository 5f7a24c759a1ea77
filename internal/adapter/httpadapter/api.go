package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
)

const (
	maxRequestBytes = 1 << 20
	ndjson          = "application/x-ndjson"
)

// Analyzer runs one risk analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest, progress chan<- domain.ProgressEvent) (*domain.AnalysisResponse, error)
}

// ModelInfo describes the model serving predictions.
type ModelInfo interface {
	Mode() model.Mode
	Version() string
	Features() []string
}

type api struct {
	analyzer Analyzer
	model    ModelInfo
	logger   *slog.Logger
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// streamLine is one line of an NDJSON analysis stream. Exactly one field is set.
type streamLine struct {
	Progress *domain.ProgressEvent   `json:"progress,omitempty"`
	Result   *domain.AnalysisResponse `json:"result,omitempty"`
	Error    *errorDetail             `json:"error,omitempty"`
}

type modelBody struct {
	Mode     model.Mode `json:"mode"`
	Version  string     `json:"version"`
	Features []string   `json:"features"`
}

func (a *api) handleModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelBody{
		Mode:     a.model.Mode(),
		Version:  a.model.Version(),
		Features: a.model.Features(),
	})
}

// handleAnalyze answers with the full response, or with an NDJSON stream of
// progress lines followed by the result when the client accepts NDJSON.
func (a *api) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	// Validate before a stream commits to a 200 status.
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.writeError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), ndjson) {
		a.stream(w, r, req)
		return
	}

	resp, err := a.analyzer.Analyze(r.Context(), req, nil)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) stream(w http.ResponseWriter, r *http.Request, req domain.AnalysisRequest) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", ndjson)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	write := func(line streamLine) {
		enc.Encode(line) //nolint:errcheck // client may have gone away
		if flusher != nil {
			flusher.Flush()
		}
	}

	progress := make(chan domain.ProgressEvent, 64)
	type outcome struct {
		resp *domain.AnalysisResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := a.analyzer.Analyze(r.Context(), req, progress)
		done <- outcome{resp, err}
	}()

	for {
		select {
		case ev := <-progress:
			write(streamLine{Progress: &ev})
		case out := <-done:
			for drained := false; !drained; {
				select {
				case ev := <-progress:
					write(streamLine{Progress: &ev})
				default:
					drained = true
				}
			}
			if out.err != nil {
				_, detail := a.classify(out.err)
				write(streamLine{Error: &detail})
				return
			}
			write(streamLine{Result: out.resp})
			return
		}
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (domain.AnalysisRequest, error) {
	var req domain.AnalysisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, domain.NewInputValidationError("request body exceeds %d bytes", maxRequestBytes)
		}
		return req, domain.NewInputValidationError("request body is not a valid analysis request: %v", err)
	}
	return req, nil
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status, detail := a.classify(err)
	writeJSON(w, status, errorBody{Error: detail})
}

// classify maps an analysis error to a status and a body that never
// exposes internal error text.
func (a *api) classify(err error) (int, errorDetail) {
	var de *domain.Error
	switch {
	case domain.IsInputValidation(err) && errors.As(err, &de):
		return http.StatusBadRequest, errorDetail{Kind: string(de.Kind), Message: de.Message}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorDetail{Kind: "cancelled", Message: "analysis was cancelled before it completed"}
	case domain.KindOf(err) == domain.KindModelUnavailable:
		return http.StatusServiceUnavailable, errorDetail{Kind: string(domain.KindModelUnavailable), Message: "risk model unavailable"}
	}
	a.logger.Error("analysis failed", "error", err)
	kind := string(domain.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	return http.StatusInternalServerError, errorDetail{Kind: kind, Message: "analysis failed; try again later"}
}
