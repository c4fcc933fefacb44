package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config is the [logging] section of the configuration file.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type registry struct {
	mu      sync.RWMutex
	config  Config
	ready   bool
	out     io.Writer
	loggers map[string]*slog.Logger
	levels  map[string]*slog.LevelVar
	global  slog.LevelVar
}

var modules = newRegistry(os.Stdout)

func newRegistry(out io.Writer) *registry {
	return &registry{
		out:     out,
		loggers: make(map[string]*slog.Logger),
		levels:  make(map[string]*slog.LevelVar),
	}
}

// Initialize configures the output format and levels and installs the
// default slog logger. Loggers handed out earlier are rebuilt for the new
// format; their levels follow the new configuration.
func Initialize(config Config) {
	modules.initialize(config)
}

// SetLevels applies the levels of config to every module logger without
// touching the output format. It is called when the config file changes.
func SetLevels(config Config) {
	modules.setLevels(config)
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	return modules.logger(module)
}

// Level returns the current level of module, or the global level when the
// module has no logger yet.
func Level(module string) slog.Level {
	return modules.level(module)
}

func (r *registry) initialize(config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = config
	r.ready = true
	r.applyLevels()

	for module, lv := range r.levels {
		r.loggers[module] = slog.New(r.handler(lv)).With("module", module)
	}
	slog.SetDefault(slog.New(r.handler(&r.global)))
}

func (r *registry) setLevels(config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config.Level = config.Level
	r.config.Modules = config.Modules
	r.applyLevels()
}

// applyLevels requires r.mu.
func (r *registry) applyLevels() {
	r.global.Set(levelOr(r.config.Level, slog.LevelInfo))
	for module, lv := range r.levels {
		lv.Set(r.moduleLevel(module))
	}
}

func (r *registry) moduleLevel(module string) slog.Level {
	level := levelOr(r.config.Level, slog.LevelInfo)
	if s, ok := r.config.Modules[module]; ok {
		level = levelOr(s, level)
	}
	return level
}

func (r *registry) logger(module string) *slog.Logger {
	r.mu.RLock()
	logger, ok := r.loggers[module]
	r.mu.RUnlock()
	if ok {
		return logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if logger, ok := r.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	if r.ready {
		lv.Set(r.moduleLevel(module))
	}
	logger = slog.New(r.handler(lv)).With("module", module)
	r.loggers[module] = logger
	r.levels[module] = lv
	return logger
}

func (r *registry) level(module string) slog.Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lv, ok := r.levels[module]; ok {
		return lv.Level()
	}
	return r.global.Level()
}

// handler builds the output chain: stdout when something is listening on
// it, the journal when journald is running. Requires r.mu.
func (r *registry) handler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var out slog.Handler
	if r.config.Format == "json" {
		out = slog.NewJSONHandler(r.out, opts)
	} else {
		out = slog.NewTextHandler(r.out, opts)
	}

	var handlers []slog.Handler
	if r.out != os.Stdout || isStdoutAvailable() {
		handlers = append(handlers, out)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}

	switch len(handlers) {
	case 0:
		return out
	case 1:
		return handlers[0]
	default:
		return NewMultiHandler(handlers...)
	}
}

// isStdoutAvailable reports whether stdout is a terminal, pipe, socket or
// regular file rather than /dev/null.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l := parseLevel(s); l != nil {
		return *l
	}
	return fallback
}

// parseLevel converts a level name to slog.Level, or nil if unknown.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
