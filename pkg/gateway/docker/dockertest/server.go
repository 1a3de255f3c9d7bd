// Package dockertest is a fake docker daemon for tests. It serves the
// container endpoints jobwatch uses over httptest.
package dockertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gorilla/mux"
)

const APIVersion = "1.43"

// Container is the fake daemon's view of one container.
type Container struct {
	ID         string
	Config     container.Config
	HostConfig container.HostConfig
	State      string // created, running, exited
	ExitCode   int
	Output     string
	Killed     bool
	StartedAt  time.Time
	FinishedAt time.Time

	done chan struct{}
}

type Server struct {
	*httptest.Server

	// OnStart, when set, runs after a container started. Calling Exit
	// from it makes the container finish immediately.
	OnStart func(s *Server, c Container)

	mu           sync.Mutex
	containers   map[string]*Container
	seq          int
	listCalls    int
	inspectCalls int
	now          func() time.Time
}

func New(t testing.TB) *Server {
	s := &Server{
		containers: make(map[string]*Container),
		now:        time.Now,
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/v{version:[0-9.]+}").Subrouter()
	api.HandleFunc("/containers/create", s.create).Methods(http.MethodPost)
	api.HandleFunc("/containers/json", s.list).Methods(http.MethodGet)
	api.HandleFunc("/containers/{id}/json", s.inspect).Methods(http.MethodGet)
	api.HandleFunc("/containers/{id}/start", s.start).Methods(http.MethodPost)
	api.HandleFunc("/containers/{id}/wait", s.wait).Methods(http.MethodPost)
	api.HandleFunc("/containers/{id}/kill", s.kill).Methods(http.MethodPost)
	api.HandleFunc("/containers/{id}/logs", s.logs).Methods(http.MethodGet)
	api.HandleFunc("/containers/{id}", s.remove).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Client returns a docker client pointed at the fake daemon.
func (s *Server) Client(t testing.TB) *client.Client {
	t.Helper()
	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+strings.TrimPrefix(s.URL, "http://")),
		client.WithVersion(APIVersion),
	)
	if err != nil {
		t.Fatalf("docker client: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

// Exit finishes a container with code and output.
func (s *Server) Exit(id string, code int, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[id]; ok {
		s.exitLocked(c, code, output)
	}
}

func (s *Server) exitLocked(c *Container, code int, output string) {
	if c.State == "exited" {
		return
	}
	c.State = "exited"
	c.ExitCode = code
	c.Output += output
	c.FinishedAt = s.now()
	close(c.done)
}

// Container returns a copy of the container with id.
func (s *Server) Container(id string) (Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// IDs lists current containers in creation order.
func (s *Server) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.containers))
	for i := 1; i <= s.seq; i++ {
		id := containerID(i)
		if _, ok := s.containers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *Server) InspectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inspectCalls
}

func containerID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such " + what})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Container, bool) {
	id := mux.Vars(r)["id"]
	c, ok := s.containers[id]
	if !ok {
		notFound(w, "container: "+id)
	}
	return c, ok
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		container.Config
		HostConfig *container.HostConfig
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if body.Image == "" || strings.HasPrefix(body.Image, "missing") {
		notFound(w, "image: "+body.Image)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := &Container{ID: containerID(s.seq), Config: body.Config, State: "created", done: make(chan struct{})}
	if body.HostConfig != nil {
		c.HostConfig = *body.HostConfig
	}
	s.containers[c.ID] = c
	writeJSON(w, http.StatusCreated, map[string]any{"Id": c.ID, "Warnings": []string{}})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.lookup(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	c.State = "running"
	c.StartedAt = s.now()
	snapshot := *c
	hook := s.OnStart
	s.mu.Unlock()

	if hook != nil {
		hook(s, snapshot)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) wait(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.lookup(w, r)
	s.mu.Unlock()
	if !ok {
		return
	}

	// like dockerd, answer headers first and the body once the container exits
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	select {
	case <-c.done:
	case <-r.Context().Done():
		return
	}
	s.mu.Lock()
	code := c.ExitCode
	s.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"StatusCode": code})
}

func (s *Server) kill(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if c.State != "running" {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "container " + c.ID + " is not running"})
		return
	}
	c.Killed = true
	s.exitLocked(c, 137, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.lookup(w, r)
	var output string
	if ok {
		output = c.Output
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
	w.WriteHeader(http.StatusOK)
	if output != "" {
		_, _ = stdcopy.NewStdWriter(w, stdcopy.Stdout).Write([]byte(output))
	}
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.exitLocked(c, c.ExitCode, "")
	delete(s.containers, c.ID)
	w.WriteHeader(http.StatusNoContent)
}

// list honours the id and label filters.
func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	args, err := filters.FromJSON(r.URL.Query().Get("filters"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++

	ids := args.Get("id")
	out := []types.Container{}
	for i := 1; i <= s.seq; i++ {
		c, ok := s.containers[containerID(i)]
		if !ok {
			continue
		}
		if len(ids) > 0 && !args.ExactMatch("id", c.ID) {
			continue
		}
		if !args.MatchKVList("label", c.Config.Labels) {
			continue
		}
		out = append(out, types.Container{
			ID:     c.ID,
			Image:  c.Config.Image,
			Labels: c.Config.Labels,
			State:  c.State,
			Status: c.State,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) inspect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inspectCalls++
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	state := &types.ContainerState{
		Status:   c.State,
		Running:  c.State == "running",
		ExitCode: c.ExitCode,
	}
	if !c.StartedAt.IsZero() {
		state.StartedAt = c.StartedAt.Format(time.RFC3339Nano)
	}
	if !c.FinishedAt.IsZero() {
		state.FinishedAt = c.FinishedAt.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    c.ID,
			State: state,
		},
		Config: &c.Config,
	})
}
