// Package mockcomfy provides a mock ComfyUI workflow server for testing.
//
// It implements the endpoints the gateway drives: queue a prompt, poll the
// history of a finished job, download a produced image, and system stats.
// Jobs complete after a configurable number of history polls so tests can
// exercise the dispatcher's polling loop, and the served artifact is a real
// PNG rendered at the size the submitted workflow asked for.
package mockcomfy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type job struct {
	width  int
	height int
	polls  int
	done   bool
}

// Server is a mock ComfyUI server for testing.
type Server struct {
	*httptest.Server

	mu   sync.Mutex
	jobs map[string]*job
	mux  *http.ServeMux

	// CompleteAfterPolls is how many history polls a job stays pending
	// before it completes. Zero completes on the first poll.
	CompleteAfterPolls int
	// EmptyOutput makes completed jobs report no images.
	EmptyOutput bool
	// RejectQueue makes POST /prompt fail with a validation error.
	RejectQueue bool
}

// New creates a started mock ComfyUI server. Callers must Close it.
func New() *Server {
	s := NewDetached()
	s.Server = httptest.NewServer(s.mux)
	return s
}

// NewDetached creates the mock without binding a listener, for callers that
// serve it themselves (cmd/mockcomfy).
func NewDetached() *Server {
	s := &Server{jobs: make(map[string]*job)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", s.handleQueue)
	mux.HandleFunc("GET /history/{id}", s.handleHistory)
	mux.HandleFunc("GET /view", s.handleView)
	mux.HandleFunc("GET /system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{"system": {"os": "mock"}}`))
	})

	s.mux = mux
	return s
}

// Handler exposes the mock's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// JobCount reports how many jobs have been queued.
func (s *Server) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.RejectQueue {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "prompt rejected"},
		})
		return
	}

	var req struct {
		Prompt map[string]struct {
			ClassType string         `json:"class_type"`
			Inputs    map[string]any `json:"inputs"`
		} `json:"prompt"`
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "invalid workflow"},
		})
		return
	}

	// Honor the latent size so the served artifact matches the request.
	width, height := 64, 64
	for _, node := range req.Prompt {
		if node.ClassType != "EmptyLatentImage" {
			continue
		}
		if v, ok := node.Inputs["width"].(float64); ok {
			width = int(v)
		}
		if v, ok := node.Inputs["height"].(float64); ok {
			height = int(v)
		}
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.jobs[id] = &job{width: width, height: height}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "number": 1})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok && !j.done {
		j.polls++
		if j.polls > s.CompleteAfterPolls {
			j.done = true
		}
	}
	done := ok && j.done
	s.mu.Unlock()

	if !done {
		// Pending and unknown jobs both read as an empty history map.
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	if s.EmptyOutput {
		writeJSON(w, http.StatusOK, map[string]any{
			id: map[string]any{"outputs": map[string]any{}},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		id: map[string]any{
			"outputs": map[string]any{
				"60": map[string]any{
					"images": []map[string]string{{
						"filename":  fmt.Sprintf("mock_%s.png", id),
						"subfolder": "",
						"type":      "output",
					}},
				},
			},
		},
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.NotFound(w, r)
		return
	}

	// Recover the job from the filename to render at its requested size.
	id := strings.TrimSuffix(strings.TrimPrefix(filename, "mock_"), ".png")

	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	img := image.NewRGBA(image.Rect(0, 0, j.width, j.height))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.Black)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, "failed to render artifact", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	//nolint:errcheck
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(data)
}
