// Package librarian implements LibrarianRegistry: a pool of topic-scoped
// "librarian" personas that bid to handle a request, arbitrated by
// confidence gap or, on a close call, by the injected text generator
// (spec.md §4.8).
package librarian

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultLibrarianName is the built-in librarian every registry carries,
// used when no definition's topics match the request.
const defaultLibrarianName = "default"

// Bid is one librarian's response to a resolution request.
type Bid struct {
	Librarian  string
	Confidence float64
}

// Registry loads LibrarianDefinitions from a directory, runs bidding
// fan-out via errgroup, and arbitrates the winner.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]libcore.LibrarianDefinition
	selfGap     float64
	generator   providers.TextGenerationProvider
	logger      *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Config configures a Registry.
type Config struct {
	DefinitionsDir    string
	HotReload         bool
	SelfResolutionGap float64
}

// New constructs a Registry, loading every *.json definition in
// cfg.DefinitionsDir (if it exists) and, if cfg.HotReload is set,
// watching it for changes via fsnotify.
func New(cfg Config, generator providers.TextGenerationProvider, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	selfGap := cfg.SelfResolutionGap
	if selfGap <= 0 {
		selfGap = 0.3
	}

	r := &Registry{
		definitions: map[string]libcore.LibrarianDefinition{
			defaultLibrarianName: {
				Name:        defaultLibrarianName,
				Description: "generalist fallback librarian",
				Topics:      []string{"*"},
				Permissions: libcore.LibrarianPermissions{Add: true, Delete: true, Reorganize: true},
			},
		},
		selfGap:   selfGap,
		generator: generator,
		logger:    logger,
	}

	if cfg.DefinitionsDir != "" {
		if err := r.loadDefinitions(cfg.DefinitionsDir); err != nil {
			return nil, err
		}
		if cfg.HotReload {
			if err := r.watchDefinitions(cfg.DefinitionsDir); err != nil {
				logger.Warn("disabling librarian hot-reload", zap.Error(err))
			}
		}
	}
	return r, nil
}

func (r *Registry) loadDefinitions(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading definitions directory: %v", libcore.ErrIO, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable librarian definition", zap.String("path", path), zap.Error(err))
			continue
		}
		var def libcore.LibrarianDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			r.logger.Warn("skipping malformed librarian definition", zap.String("path", path), zap.Error(err))
			continue
		}
		if !libcore.ValidLibrarianName(def.Name) {
			r.logger.Warn("skipping librarian definition with invalid name", zap.String("path", path), zap.String("name", def.Name))
			continue
		}
		if len(def.Topics) == 0 {
			r.logger.Warn("skipping librarian definition with no topics", zap.String("path", path))
			continue
		}
		r.definitions[def.Name] = def
	}
	return nil
}

// watchDefinitions installs an fsnotify watch on dir, reloading every
// definition on any write/create/remove event. Grounded on the detector
// idiom used elsewhere in this codebase for filesystem-change watching.
func (r *Registry) watchDefinitions(dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching definitions directory: %w", err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := r.loadDefinitions(dir); err != nil {
						r.logger.Warn("reloading librarian definitions", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("fsnotify watcher error", zap.Error(err))
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watcher, if any.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

// Definitions returns every currently loaded LibrarianDefinition.
func (r *Registry) Definitions() []libcore.LibrarianDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]libcore.LibrarianDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveLibrarian implements spec.md §4.8's resolve_librarian: zero topic
// matches hands the request to the default librarian with no bidding; one
// match wins outright, also with no bidding; two or more bid in parallel
// and are arbitrated by confidence gap or, on a close call, by the text
// generator.
func (r *Registry) ResolveLibrarian(ctx context.Context, topic, query string) (string, error) {
	candidates := r.candidatesFor(topic)
	if len(candidates) == 0 {
		return defaultLibrarianName, nil
	}
	if len(candidates) == 1 {
		return candidates[0].Name, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	bids := make([]Bid, len(candidates))
	for i, def := range candidates {
		i, def := i, def
		g.Go(func() error {
			bids[i] = Bid{Librarian: def.Name, Confidence: bidConfidence(def, query)}
			_ = gctx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Confidence > bids[j].Confidence })
	if bids[0].Confidence-bids[1].Confidence > r.selfGap {
		return bids[0].Librarian, nil
	}

	return r.arbitrate(ctx, bids[0], bids[1], query)
}

// candidatesFor collects every non-default librarian whose topic globs
// match topic (spec.md §4.8: `*` matches one path segment, `**` matches
// zero or more, any other segment matches only itself exactly).
func (r *Registry) candidatesFor(topic string) []libcore.LibrarianDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []libcore.LibrarianDefinition
	for _, def := range r.definitions {
		if def.Name == defaultLibrarianName {
			continue
		}
		for _, glob := range def.Topics {
			if topicMatchesGlob(glob, topic) {
				matched = append(matched, def)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched
}

// topicMatchesGlob reports whether topic (a "/"-separated path) matches
// glob, where "*" stands for exactly one segment, "**" for zero or more,
// and any other segment must match exactly (case-insensitively).
func topicMatchesGlob(glob, topic string) bool {
	return globSegmentsMatch(strings.Split(glob, "/"), strings.Split(topic, "/"))
}

func globSegmentsMatch(glob, topic []string) bool {
	if len(glob) == 0 {
		return len(topic) == 0
	}
	head := glob[0]
	if head == "**" {
		if globSegmentsMatch(glob[1:], topic) {
			return true
		}
		if len(topic) == 0 {
			return false
		}
		return globSegmentsMatch(glob, topic[1:])
	}
	if len(topic) == 0 {
		return false
	}
	if head != "*" && !strings.EqualFold(head, topic[0]) {
		return false
	}
	return globSegmentsMatch(glob[1:], topic[1:])
}

// bidConfidence scores how well a librarian definition fits query, using
// its configured BidWeight as a base and a simple keyword-overlap bonus
// against its description/prompt.
func bidConfidence(def libcore.LibrarianDefinition, query string) float64 {
	base := def.BidWeight
	if base == 0 {
		base = 0.5
	}
	overlap := keywordOverlap(query, def.Description+" "+def.Prompt)
	confidence := base + 0.4*overlap
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func keywordOverlap(query, corpus string) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}
	corpusLower := strings.ToLower(corpus)
	var hits int
	for _, w := range queryWords {
		if strings.Contains(corpusLower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

// arbitrate asks the text generator to pick between two close bids. On
// generator failure, it falls back to the higher bidder and logs a
// warning rather than returning ErrArbitrationFailed, since silently
// picking the top bid is always a safe default.
func (r *Registry) arbitrate(ctx context.Context, top, second Bid, query string) (string, error) {
	if r.generator == nil {
		return top.Librarian, nil
	}

	prompt := fmt.Sprintf("Two librarians, %q and %q, are both plausible for this request:\n\n%s\n\nReply with exactly one name.", top.Librarian, second.Librarian, query)
	choice, err := r.generator.Generate(ctx, "You are arbitrating a close call between two specialist librarians.", prompt)
	if err != nil {
		r.logger.Warn("librarian arbitration fell back to top bidder", zap.Error(err))
		return top.Librarian, nil
	}

	choice = strings.TrimSpace(choice)
	if strings.EqualFold(choice, second.Librarian) {
		return second.Librarian, nil
	}
	return top.Librarian, nil
}

// SpawnSpecialist asks the text generator whether a new specialist
// librarian is warranted for topic, returning libcore.ErrSpecialistNotNeeded
// when it declines.
func (r *Registry) SpawnSpecialist(ctx context.Context, topic string, sampleTexts []string) (libcore.LibrarianDefinition, error) {
	if r.generator == nil {
		return libcore.LibrarianDefinition{}, libcore.ErrSpecialistNotNeeded
	}

	prompt := fmt.Sprintf("Topic %q has accumulated the following entries:\n\n%s\n\nShould a specialist librarian be created for this topic? Reply NO, or reply with a one-sentence description of the specialist's focus.", topic, strings.Join(sampleTexts, "\n---\n"))
	reply, err := r.generator.Generate(ctx, "You help decide when a knowledge base topic needs a dedicated specialist librarian.", prompt)
	if err != nil {
		return libcore.LibrarianDefinition{}, libcore.NewProviderError("textgen", err)
	}

	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "NO") {
		return libcore.LibrarianDefinition{}, libcore.ErrSpecialistNotNeeded
	}

	def := libcore.LibrarianDefinition{
		Name:        specialistName(topic),
		Description: reply,
		Purpose:     reply,
		Topics:      []string{topic},
		Permissions: libcore.LibrarianPermissions{Add: true},
		BidWeight:   0.8,
	}
	if !libcore.ValidLibrarianName(def.Name) {
		return libcore.LibrarianDefinition{}, fmt.Errorf("%w: generated specialist name %q", libcore.ErrValidation, def.Name)
	}

	r.mu.Lock()
	r.definitions[def.Name] = def
	r.mu.Unlock()

	return def, nil
}

// specialistName derives a kebab-case specialist name from a topic path,
// e.g. "code/react" -> "code-react-specialist".
func specialistName(topic string) string {
	lower := strings.ToLower(strings.TrimSpace(topic))
	var b strings.Builder
	lastDash := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "topic"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t-" + name
	}
	return name + "-specialist"
}
