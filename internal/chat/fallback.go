package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// Responder maps user input to a complete reply
type Responder func(input string) string

// MessagePlaceholder is replaced with the user's original text in a default reply
const MessagePlaceholder = "{message}"

// Rule answers with Reply when the lowercased input contains any keyword
type Rule struct {
	Name     string   `yaml:"name" toml:"name"`
	Keywords []string `yaml:"keywords" toml:"keywords"`
	Reply    string   `yaml:"reply" toml:"reply"`
}

// Table is an ordered rule list plus the reply used when nothing matches
type Table struct {
	Rules   []Rule `yaml:"rules" toml:"rules"`
	Default string `yaml:"default" toml:"default"`
}

// DefaultTable returns the built-in demo-mode replies
func DefaultTable() Table {
	return Table{
		Rules: []Rule{
			{
				Name:     "greeting",
				Keywords: []string{"hi", "hello"},
				Reply:    "Hello! How can I help you today? I am your AI assistant and ready to answer any questions you might have.",
			},
			{
				Name:     "how_are_you",
				Keywords: []string{"how are you"},
				Reply:    "I'm doing great, thank you for asking! As an AI, I'm always ready and eager to help. What can I do for you today?",
			},
			{
				Name:     "weather",
				Keywords: []string{"weather"},
				Reply:    "I don't have access to real-time weather data, but I'd recommend checking a weather service like weather.com or your phone's weather app for accurate forecasts.",
			},
			{
				Name:     "help",
				Keywords: []string{"help"},
				Reply:    "I'd be happy to help! You can ask me questions about various topics, get explanations, or have a conversation. What would you like to know?",
			},
			{
				Name:     "thank",
				Keywords: []string{"thank"},
				Reply:    "You're welcome! Is there anything else I can help you with?",
			},
			{
				Name:     "name",
				Keywords: []string{"name"},
				Reply:    "I'm your friendly AI assistant! I'm here to help you with questions and have conversations.",
			},
			{
				Name:     "capabilities",
				Keywords: []string{"what can you do"},
				Reply:    "I can help you with a variety of tasks! I can answer questions, have conversations, provide explanations, and more. Just ask me anything!",
			},
		},
		Default: `Thanks for your message: "` + MessagePlaceholder + `". I'm currently running in demo mode. ` +
			`To get real AI responses, make sure your Gemini API key from https://aistudio.google.com/app/apikey is set in the .env file!`,
	}
}

// Validate rejects tables that could produce an empty reply
func (t Table) Validate() error {
	if t.Default == "" {
		return errors.New("fallback table: default reply is required")
	}
	for i, r := range t.Rules {
		if r.Reply == "" {
			return fmt.Errorf("fallback table: rule %d (%s) has no reply", i, r.Name)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("fallback table: rule %d (%s) has no keywords", i, r.Name)
		}
	}
	return nil
}

// Match returns the reply for input: the first rule in table order with a
// keyword contained in the lowercased input, else the default with the
// original input substituted.
func (t Table) Match(input string) string {
	text := strings.ToLower(input)
	for _, r := range t.Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return r.Reply
			}
		}
	}
	return strings.ReplaceAll(t.Default, MessagePlaceholder, input)
}

// ParseTable decodes a table; the format is chosen from the file extension
func ParseTable(path string, data []byte) (Table, error) {
	var t Table
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Table{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &t); err != nil {
			return Table{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return Table{}, fmt.Errorf("unsupported fallback table format %q", ext)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// LoadTable reads and parses a table file
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read fallback table: %w", err)
	}
	return ParseTable(path, data)
}

// FallbackResponder answers from a keyword table that may be swapped at runtime
type FallbackResponder struct {
	mu     sync.RWMutex
	table  Table
	logger *zap.Logger
}

// NewFallbackResponder creates a responder over table
func NewFallbackResponder(table Table, logger *zap.Logger) *FallbackResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackResponder{table: table, logger: logger}
}

// Respond returns the canned reply for input
func (f *FallbackResponder) Respond(input string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table.Match(input)
}

// Table returns the active table
func (f *FallbackResponder) Table() Table {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table
}

// Replace swaps in a new table
func (f *FallbackResponder) Replace(t Table) {
	f.mu.Lock()
	f.table = t
	f.mu.Unlock()
}

// Reload loads path and swaps it in; the active table is kept on error
func (f *FallbackResponder) Reload(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		return err
	}
	f.Replace(t)
	f.logger.Info("fallback table loaded", zap.String("path", path), zap.Int("rules", len(t.Rules)))
	return nil
}

// Watch reloads path whenever it changes until ctx is done.
// The parent directory is watched so that editors replacing the file by rename are seen.
func (f *FallbackResponder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := f.Reload(target); err != nil {
					f.logger.Warn("fallback table reload failed, keeping previous table",
						zap.String("path", target), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("fallback table watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
