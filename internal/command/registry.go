// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// nameMatcher compares command names the way players expect: case, width
// and diacritics are ignored. Collators are not safe for concurrent use, so
// comparisons are serialized.
type nameMatcher struct {
	mu  sync.Mutex
	col *collate.Collator
}

var names = &nameMatcher{
	col: collate.New(language.Und, collate.Loose),
}

func (m *nameMatcher) equal(a, b string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.col.CompareString(a, b) == 0
}

// Entry is a registered command with the state the registry attached to it.
type Entry struct {
	Command Command
	Info    Info

	sem          *semaphore.Weighted
	translations localization.Translations
}

// Name returns the command's primary name.
func (e *Entry) Name() string {
	return e.Info.Name
}

// Translations returns the command's own translation table, if any.
func (e *Entry) Translations() localization.Translations {
	return e.translations
}

// Matches reports whether label is the command's name or one of its aliases.
func (e *Entry) Matches(label string) bool {
	if names.equal(e.Info.Name, label) {
		return true
	}
	for _, a := range e.Info.Aliases {
		if names.equal(a, label) {
			return true
		}
	}
	return false
}

// RegistryOption configures a Registry during construction.
type RegistryOption func(*Registry)

// WithTranslationsDir sets the directory command translation files are
// resolved against.
func WithTranslationsDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.translationsDir = dir
	}
}

// Registry holds commands ordered by descending priority. Commands with equal
// priority keep registration order.
type Registry struct {
	mu              sync.RWMutex
	entries         []*Entry
	translationsDir string

	hookMu       sync.Mutex
	registered   []func(*Entry)
	deregistered []func(*Entry)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnRegistered adds a handler called after a command is registered.
func (r *Registry) OnRegistered(fn func(*Entry)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.registered = append(r.registered, fn)
}

// OnDeregistered adds a handler called after a command is deregistered.
func (r *Registry) OnDeregistered(fn func(*Entry)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.deregistered = append(r.deregistered, fn)
}

func (r *Registry) fire(list *[]func(*Entry), e *Entry) {
	r.hookMu.Lock()
	hooks := slices.Clone(*list)
	r.hookMu.Unlock()
	for _, fn := range hooks {
		fn(e)
	}
}

// Register adds cmd to the registry. It returns false, after logging why,
// when the name is invalid, the command collides with a registered one, or
// a localized command has no default translations.
func (r *Registry) Register(cmd Command) bool {
	info := cmd.Describe()
	info.Name = strings.TrimSpace(info.Name)
	logger := slog.With("command", info.Name, "plugin", info.Plugin)

	if err := ValidateCommandName(info.Name); err != nil {
		errutil.LogError(logger, "command not registered", err)
		return false
	}
	for _, a := range info.Aliases {
		if err := ValidateAliasName(a); err != nil {
			errutil.LogError(logger, "command not registered", err, "alias", a)
			return false
		}
	}

	entry := &Entry{Command: cmd, Info: info}
	if info.Synchronized {
		if s, ok := cmd.(Synchronizer); ok && s.Semaphore() != nil {
			entry.sem = s.Semaphore()
		} else {
			entry.sem = semaphore.NewWeighted(1)
		}
	}
	if info.Localized {
		translations, err := r.loadTranslations(cmd, info)
		if err != nil {
			errutil.LogError(logger, "command not registered", err)
			return false
		}
		entry.translations = translations
	}

	r.mu.Lock()
	for _, existing := range r.entries {
		if duplicate(existing.Command, cmd) {
			r.mu.Unlock()
			errutil.LogError(logger, "command not registered", ErrDuplicateCommand(info.Name, existing.Info.Name))
			return false
		}
	}
	i := len(r.entries)
	for j, existing := range r.entries {
		if existing.Info.Priority < info.Priority {
			i = j
			break
		}
	}
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = entry
	RegisteredCommands.Set(float64(len(r.entries)))
	r.mu.Unlock()

	logger.Debug("command registered", "priority", info.Priority, "mode", info.Mode.String())
	r.fire(&r.registered, entry)
	return true
}

func (r *Registry) loadTranslations(cmd Command, info Info) (localization.Translations, error) {
	if t, ok := cmd.(Translated); ok {
		if translations := t.Translations(); translations != nil {
			return translations, nil
		}
	}
	if len(info.DefaultTranslations) == 0 {
		return nil, oops.In("command").Code(CodeMissingDefaults).
			With("command", info.Name).
			Errorf("localized command %s has no default translations", info.Name)
	}
	path := r.translationPath(info)
	if path == "" {
		return localization.Merge(info.DefaultTranslations, nil), nil
	}
	translations, err := localization.Load(path, info.DefaultTranslations)
	if err != nil {
		errutil.LogWarn(slog.Default(), "using default command translations", err, "command", info.Name, "path", path)
		return localization.Merge(info.DefaultTranslations, nil), nil
	}
	return translations, nil
}

func (r *Registry) translationPath(info Info) string {
	file := info.TranslationFile
	if file == "" {
		if r.translationsDir == "" {
			return ""
		}
		owner := info.Plugin
		if owner == "" {
			owner = "devkitserver"
		}
		file = filepath.Join(owner, "commands", strings.ToLower(info.Name)+".yaml")
	}
	if filepath.IsAbs(file) || r.translationsDir == "" {
		return file
	}
	return filepath.Join(r.translationsDir, file)
}

// Find resolves label to a command. Names are matched before aliases, each
// pass walking the registry in priority order.
func (r *Registry) Find(label string) (*Entry, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if names.equal(e.Info.Name, label) {
			return e, true
		}
	}
	for _, e := range r.entries {
		for _, a := range e.Info.Aliases {
			if names.equal(a, label) {
				return e, true
			}
		}
	}
	return nil, false
}

// Entries returns the registered commands in priority order.
// The returned slice is a copy and safe to modify.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.entries...)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Deregister removes the command registered under name. A command that
// implements io.Closer is closed; close failures are logged.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	idx := -1
	for i, e := range r.entries {
		if names.equal(e.Info.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	entry := r.entries[idx]
	r.entries = append(r.entries[:idx:idx], r.entries[idx+1:]...)
	RegisteredCommands.Set(float64(len(r.entries)))
	r.mu.Unlock()

	r.release(entry)
	return true
}

// DeregisterPlugin removes every command owned by pluginID and returns how
// many were removed.
func (r *Registry) DeregisterPlugin(pluginID string) int {
	r.mu.Lock()
	var removed []*Entry
	kept := r.entries[:0:0]
	for _, e := range r.entries {
		if e.Info.Plugin != "" && strings.EqualFold(e.Info.Plugin, pluginID) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	RegisteredCommands.Set(float64(len(r.entries)))
	r.mu.Unlock()

	for _, e := range removed {
		r.release(e)
	}
	return len(removed)
}

func (r *Registry) release(entry *Entry) {
	slog.Debug("command deregistered", "command", entry.Info.Name, "plugin", entry.Info.Plugin)
	r.fire(&r.deregistered, entry)

	closer, ok := entry.Command.(io.Closer)
	if !ok {
		return
	}
	if err := closeCommand(closer); err != nil {
		errutil.LogError(slog.Default(), "closing deregistered command failed", err, "command", entry.Info.Name)
	}
}

func closeCommand(c io.Closer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = oops.In("command").Code(CodeCommandPanic).Errorf("panic while closing command: %v", p)
		}
	}()
	return c.Close()
}
