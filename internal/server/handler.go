package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aravinth/pollkv/internal/protocol"
	"github.com/aravinth/pollkv/internal/store"
)

// CommandFunc is the signature for a command handler.
// args excludes the verb and has already been checked against the arity.
type CommandFunc func(args [][]byte) protocol.Value

type command struct {
	arity int
	fn    CommandFunc
}

// Handler routes parsed requests to the store. It knows nothing about the
// transport; the event loop hands it arguments and encodes what comes back.
type Handler struct {
	db        *store.DB
	commands  map[string]command
	startTime time.Time

	// Metrics, nil when disabled
	cmdCount    *prometheus.CounterVec
	cmdDuration *prometheus.HistogramVec
}

// NewHandler creates a new handler and registers all commands
func NewHandler(db *store.DB) *Handler {
	h := &Handler{
		db:        db,
		startTime: time.Now(),
	}
	h.registerCommands()
	return h
}

// SetMetrics injects the Prometheus command counters into the handler.
// This is called after server creation so we avoid a circular dependency
// between the server and metrics packages.
func (h *Handler) SetMetrics(cc *prometheus.CounterVec, cd *prometheus.HistogramVec) {
	h.cmdCount = cc
	h.cmdDuration = cd
}

// StartTime returns when this handler was created (used by the metrics
// collector to compute uptime).
func (h *Handler) StartTime() time.Time {
	return h.startTime
}

// Execute dispatches one request. Unknown verbs and wrong argument counts
// both yield the unknown-command error; the connection stays usable.
func (h *Handler) Execute(args [][]byte) protocol.Value {
	if len(args) == 0 {
		return protocol.ErrUnknownCmd
	}
	name := string(args[0])
	cmd, exists := h.commands[name]
	if !exists || len(args)-1 != cmd.arity {
		return protocol.ErrUnknownCmd
	}

	var start time.Time
	if h.cmdDuration != nil {
		start = time.Now()
	}

	result := cmd.fn(args[1:])

	// Labels only ever come from the command table, so cardinality is fixed
	if h.cmdCount != nil {
		h.cmdCount.WithLabelValues(name).Inc()
	}
	if h.cmdDuration != nil {
		h.cmdDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return result
}

// Commands returns the registered verbs
func (h *Handler) Commands() []string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	return names
}

func (h *Handler) registerCommands() {
	h.commands = map[string]command{
		// Hash index
		"get":  {1, h.cmdGet},
		"set":  {2, h.cmdSet},
		"del":  {1, h.cmdDel},
		"keys": {0, h.cmdKeys},

		// Ordered index
		"avl_get":  {1, h.cmdAVLGet},
		"avl_set":  {2, h.cmdAVLSet},
		"avl_del":  {1, h.cmdAVLDel},
		"avl_keys": {0, h.cmdAVLKeys},
	}
}

// ==================== Hash index commands ====================

func (h *Handler) cmdGet(args [][]byte) protocol.Value {
	val, ok := h.db.Get(string(args[0]))
	if !ok {
		return protocol.ValNil
	}
	return protocol.StringVal(val)
}

func (h *Handler) cmdSet(args [][]byte) protocol.Value {
	h.db.Set(string(args[0]), string(args[1]))
	return protocol.ValNil
}

func (h *Handler) cmdDel(args [][]byte) protocol.Value {
	h.db.Delete(string(args[0]))
	return protocol.ValNil
}

func (h *Handler) cmdKeys(args [][]byte) protocol.Value {
	return protocol.StringsVal(h.db.Keys())
}

// ==================== Ordered index commands ====================

func (h *Handler) cmdAVLGet(args [][]byte) protocol.Value {
	val, ok := h.db.TreeGet(string(args[0]))
	if !ok {
		return protocol.ValNil
	}
	return protocol.StringVal(val)
}

func (h *Handler) cmdAVLSet(args [][]byte) protocol.Value {
	h.db.TreeSet(string(args[0]), string(args[1]))
	return protocol.ValNil
}

func (h *Handler) cmdAVLDel(args [][]byte) protocol.Value {
	h.db.TreeDelete(string(args[0]))
	return protocol.ValNil
}

func (h *Handler) cmdAVLKeys(args [][]byte) protocol.Value {
	return protocol.StringsVal(h.db.TreeKeys())
}
