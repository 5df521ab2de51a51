package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
	"github.com/MrWong99/ctcdecode/pkg/lm"
)

type hypothesisJSON struct {
	Labels   []int   `json:"labels"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Acoustic float64 `json:"acoustic_score"`
	LM       float64 `json:"lm_score"`
}

func toJSON(hyps []ctc.Hypothesis, nbest int) []hypothesisJSON {
	if nbest > 0 && nbest < len(hyps) {
		hyps = hyps[:nbest]
	}
	out := make([]hypothesisJSON, len(hyps))
	for i, h := range hyps {
		out[i] = hypothesisJSON{Labels: h.Labels, Text: h.Text, Score: h.Score, Acoustic: h.Acoustic, LM: h.LM}
	}
	return out
}

type decodeRequest struct {
	LogProbs [][]float32 `json:"log_probs"`
	NBest    int         `json:"nbest"`
}

type decodeResponse struct {
	Mode       string           `json:"mode"`
	Hypotheses []hypothesisJSON `json:"hypotheses"`
}

type batchRequest struct {
	Inputs [][][]float32 `json:"inputs"`
	NBest  int           `json:"nbest"`
}

type batchItem struct {
	Hypotheses []hypothesisJSON `json:"hypotheses,omitempty"`
	Error      string           `json:"error,omitempty"`
	Kind       string           `json:"kind,omitempty"`
}

type batchResponse struct {
	Mode    string      `json:"mode"`
	Results []batchItem `json:"results"`
}

type perplexityRequest struct {
	Text          string   `json:"text"`
	Words         []string `json:"words"`
	EndOfSequence bool     `json:"end_of_sequence"`
	LogBase       float64  `json:"log_base"`
}

type perplexityResponse struct {
	Perplexity float64 `json:"perplexity"`
	LogProb    float64 `json:"log_prob"`
	Words      int     `json:"words"`
}

type vocabularyResponse struct {
	Symbols  []string `json:"symbols"`
	Blank    int      `json:"blank"`
	Boundary *int     `json:"boundary,omitempty"`
}

// decodeBody reads a JSON body into v, rejecting unknown fields and
// oversized payloads.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) checkLength(timesteps int) error {
	if s.maxTimesteps > 0 && timesteps > s.maxTimesteps {
		return fmt.Errorf("%w: %d timesteps exceeds the limit of %d", ctc.ErrInvalidInput, timesteps, s.maxTimesteps)
	}
	return nil
}

// checkNBest rejects a requested n-best the engine cannot produce.
func checkNBest(e *Engine, nbest int) error {
	switch {
	case nbest < 0:
		return fmt.Errorf("%w: nbest must not be negative", errBadRequest)
	case e.NBest > 0 && nbest > e.NBest:
		return fmt.Errorf("%w: nbest %d exceeds the configured n-best of %d", errBadRequest, nbest, e.NBest)
	}
	return nil
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e := s.Engine()
	if err := checkNBest(e, req.NBest); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.checkLength(len(req.LogProbs)); err != nil {
		s.writeError(w, r, err)
		return
	}

	release, err := s.acquire(r.Context(), 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()

	hyps, err := e.Decoder.Decode(r.Context(), req.LogProbs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResponse{Mode: e.Mode, Hypotheses: toJSON(hyps, req.NBest)})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Inputs) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no inputs", errBadRequest))
		return
	}
	e := s.Engine()
	if err := checkNBest(e, req.NBest); err != nil {
		s.writeError(w, r, err)
		return
	}

	workers := len(req.Inputs)
	if s.batchWorkers > 0 {
		workers = min(workers, s.batchWorkers)
	}
	if s.sem != nil {
		workers = min(workers, int(s.maxWeight))
	}

	release, err := s.acquire(r.Context(), int64(workers))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()

	// Oversized items fail on their own without being decoded.
	results := make([]ctc.BatchResult, len(req.Inputs))
	var (
		pending []int
		inputs  [][][]float32
	)
	for i, in := range req.Inputs {
		if err := s.checkLength(len(in)); err != nil {
			results[i].Err = err
			continue
		}
		pending = append(pending, i)
		inputs = append(inputs, in)
	}
	for j, res := range ctc.DecodeBatch(r.Context(), e.Decoder, inputs, workers) {
		results[pending[j]] = res
	}

	resp := batchResponse{Mode: e.Mode, Results: make([]batchItem, len(results))}
	for i, res := range results {
		if res.Err != nil {
			resp.Results[i] = batchItem{Error: res.Err.Error(), Kind: kindFor(res.Err)}
			continue
		}
		resp.Results[i] = batchItem{Hypotheses: toJSON(res.Hypotheses, req.NBest)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePerplexity(w http.ResponseWriter, r *http.Request) {
	var req perplexityRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Text != "" && len(req.Words) > 0 {
		s.writeError(w, r, fmt.Errorf("%w: text and words are mutually exclusive", errBadRequest))
		return
	}
	e := s.Engine()
	if e.Model == nil {
		s.writeError(w, r, fmt.Errorf("%w: no language model configured", errNotImplemented))
		return
	}

	words := req.Words
	if req.Text != "" {
		words = strings.Fields(req.Text)
	}
	var opts []lm.PerplexityOption
	if req.EndOfSequence {
		opts = append(opts, lm.WithEndOfSequence())
	}
	base := e.LogBase
	if req.LogBase != 0 {
		base = req.LogBase
	}
	if base != 0 {
		opts = append(opts, lm.WithLogBase(base))
	}

	res, err := lm.Perplexity(e.Model, words, opts...)
	if err != nil {
		if !errors.Is(err, lm.ErrNoWords) {
			err = fmt.Errorf("%w: %w", ctc.ErrLanguageModel, err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perplexityResponse{Perplexity: res.Value, LogProb: res.LogProb, Words: res.Words})
}

func (s *Server) handleVocabulary(w http.ResponseWriter, _ *http.Request) {
	v := s.Engine().Vocabulary
	resp := vocabularyResponse{Symbols: v.Symbols(), Blank: v.Blank()}
	if v.HasBoundary() {
		b := v.Boundary()
		resp.Boundary = &b
	}
	writeJSON(w, http.StatusOK, resp)
}
