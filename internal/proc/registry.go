// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proc runs one agent subprocess per conversation and pumps its
// output into the stream multiplexer.
package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wingedpig/sessionmux/internal/metrics"
)

var (
	// ErrAlreadyRunning is returned when starting a conversation twice.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrNotRunning is returned for conversations without a process.
	ErrNotRunning = errors.New("process not running")
)

const readBufferSize = 32 * 1024

// Spec describes the command launched for every conversation.
type Spec struct {
	Command string
	Args    []string
	WorkDir string
	Env     []string
}

// Sink receives raw output chunks. stream.Mux satisfies it.
type Sink interface {
	Feed(conversationID string, chunk []byte)
}

// ExitFunc is called once a process has exited and been removed. stopped is
// true when the exit followed a call to Stop.
type ExitFunc func(conversationID string, stopped bool, err error)

// Info describes a running process.
type Info struct {
	ConversationID string    `json:"conversation_id"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
}

// Registry owns the running subprocesses keyed by conversation id.
type Registry struct {
	spec    Spec
	sink    Sink
	metrics *metrics.Metrics
	onExit  ExitFunc

	mu    sync.Mutex
	procs map[string]*process
	wg    sync.WaitGroup
}

type process struct {
	id        string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
	stopped   atomic.Bool

	stdinMu sync.Mutex
	stdin   io.WriteCloser
}

// NewRegistry creates an empty registry. onExit may be nil.
func NewRegistry(spec Spec, sink Sink, m *metrics.Metrics, onExit ExitFunc) *Registry {
	return &Registry{
		spec:    spec,
		sink:    sink,
		metrics: m,
		onExit:  onExit,
		procs:   make(map[string]*process),
	}
}

// SetSpec replaces the command used for processes started from now on.
func (r *Registry) SetSpec(spec Spec) {
	r.mu.Lock()
	r.spec = spec
	r.mu.Unlock()
}

// Start launches the agent for a conversation.
func (r *Registry) Start(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.procs[conversationID]; ok {
		return ErrAlreadyRunning
	}
	if r.spec.Command == "" {
		return errors.New("agent command is not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, r.spec.Command, r.spec.Args...)
	cmd.Dir = r.spec.WorkDir
	cmd.Env = append(os.Environ(), r.spec.Env...)
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = 5 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", r.spec.Command, err)
	}

	p := &process{
		id:        conversationID,
		cmd:       cmd,
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stdin:     stdin,
	}
	r.procs[conversationID] = p
	r.metrics.SetSessions(len(r.procs))
	log.Printf("proc [%s]: started %s (pid %d)", conversationID, r.spec.Command, cmd.Process.Pid)

	r.wg.Add(1)
	go r.readLoop(p, stdout)
	return nil
}

// readLoop forwards raw stdout chunks until EOF, then reaps the process.
// Chunks are not split into lines here; the sink reassembles them.
func (r *Registry) readLoop(p *process, stdout io.Reader) {
	defer r.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			r.sink.Feed(p.id, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("proc [%s]: read: %v", p.id, err)
			}
			break
		}
	}

	err := p.cmd.Wait()
	p.cancel()

	r.mu.Lock()
	if r.procs[p.id] == p {
		delete(r.procs, p.id)
	}
	r.metrics.SetSessions(len(r.procs))
	r.mu.Unlock()

	if err != nil {
		log.Printf("proc [%s]: exited: %v", p.id, err)
	} else {
		log.Printf("proc [%s]: exited", p.id)
	}
	if r.onExit != nil {
		r.onExit(p.id, p.stopped.Load(), err)
	}
	close(p.done)
}

// WriteToSession writes one JSON line to a conversation's stdin. It reports
// false when the process is gone or the write fails. There is no retry.
func (r *Registry) WriteToSession(conversationID string, payload []byte) bool {
	r.mu.Lock()
	p := r.procs[conversationID]
	r.mu.Unlock()
	if p == nil {
		log.Printf("proc [%s]: write to missing process", conversationID)
		r.metrics.WriteFailure()
		return false
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if _, err := p.stdin.Write(line); err != nil {
		log.Printf("proc [%s]: write: %v", conversationID, err)
		r.metrics.WriteFailure()
		return false
	}
	return true
}

type userMessage struct {
	Type    string      `json:"type"`
	Message userContent `json:"message"`
}

type userContent struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendUserMessage writes a user turn to a conversation.
func (r *Registry) SendUserMessage(conversationID, text string) error {
	data, err := json.Marshal(userMessage{
		Type: "user",
		Message: userContent{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: text}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if !r.WriteToSession(conversationID, data) {
		return ErrNotRunning
	}
	return nil
}

type interruptRequest struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id"`
	Request   interruptSubtype `json:"request"`
}

type interruptSubtype struct {
	Subtype string `json:"subtype"`
}

// Interrupt asks the agent to abandon its current turn.
func (r *Registry) Interrupt(conversationID string) error {
	data, err := json.Marshal(interruptRequest{
		Type:      "control_request",
		RequestID: uuid.NewString(),
		Request:   interruptSubtype{Subtype: "interrupt"},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if !r.WriteToSession(conversationID, data) {
		return ErrNotRunning
	}
	return nil
}

// Stop terminates a conversation's process and waits for it to be reaped
// and for the exit callback to return.
func (r *Registry) Stop(conversationID string) error {
	r.mu.Lock()
	p := r.procs[conversationID]
	r.mu.Unlock()
	if p == nil {
		return ErrNotRunning
	}

	p.stopped.Store(true)
	p.stdinMu.Lock()
	p.stdin.Close()
	p.stdinMu.Unlock()
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("process %s did not exit", conversationID)
	}
	return nil
}

// StopAll stops every process and waits for the read loops to finish.
func (r *Registry) StopAll() {
	for _, info := range r.List() {
		if err := r.Stop(info.ConversationID); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Printf("proc [%s]: %v", info.ConversationID, err)
		}
	}
	r.wg.Wait()
}

// Running reports whether a conversation has a live process.
func (r *Registry) Running(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[conversationID]
	return ok
}

// List describes the running processes, sorted by conversation id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.procs))
	for id, p := range r.procs {
		out = append(out, Info{ConversationID: id, PID: p.cmd.Process.Pid, StartedAt: p.startedAt})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}
