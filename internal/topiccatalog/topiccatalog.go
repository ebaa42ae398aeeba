// Package topiccatalog implements TopicCatalog: a hierarchical topic tree
// with fuzzy-match canonicalization, so "machine-learning" and "Machine
// Learning" resolve to the same node, plus per-topic volume membership
// (spec.md §4.3).
package topiccatalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

// TopicCatalog stores a forest of topic paths ("/" separated segments),
// each segment canonicalized independently against its siblings, along
// with which volumes currently belong to each topic.
type TopicCatalog struct {
	mu sync.RWMutex
	// nodes maps a canonical path to its TopicNode.
	nodes map[string]*libcore.TopicNode
	// childNames maps a parent path to the canonical names of its direct
	// children, used to find the fuzzy-match candidate set.
	childNames map[string][]string
	// volumeTopic maps a volume id to the canonical topic path it
	// currently belongs to.
	volumeTopic map[string]string
	// fullAlias maps a lowercased, merged-away full topic path to the
	// canonical path it was redirected to by Merge, so Resolve(source)
	// keeps returning target even after source's node is gone.
	fullAlias map[string]string
}

// New constructs an empty TopicCatalog.
func New() *TopicCatalog {
	return &TopicCatalog{
		nodes:       make(map[string]*libcore.TopicNode),
		childNames:  make(map[string][]string),
		volumeTopic: make(map[string]string),
		fullAlias:   make(map[string]string),
	}
}

// Resolve canonicalizes a "/"-separated topic path, folding each segment
// into the closest existing sibling within its fuzzy threshold (unique
// closest match only — an ambiguous tie creates a new node instead of
// guessing), auto-creating every ancestor along the path. It returns the
// canonical path.
func (c *TopicCatalog) Resolve(path string) (string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: topic path cannot be empty", libcore.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if target, ok := c.fullAlias[strings.ToLower(joinAll(segments))]; ok {
		return target, nil
	}

	parentPath := ""
	for _, segment := range segments {
		canonical := c.canonicalizeSegment(parentPath, segment)
		childPath := joinPath(parentPath, canonical)

		if _, exists := c.nodes[childPath]; !exists {
			c.nodes[childPath] = &libcore.TopicNode{
				Name:   canonical,
				Path:   childPath,
				Parent: parentPath,
			}
			c.childNames[parentPath] = append(c.childNames[parentPath], canonical)
			if parentPath != "" {
				parentNode := c.nodes[parentPath]
				parentNode.Children = append(parentNode.Children, childPath)
			}
		}
		if canonical != segment {
			node := c.nodes[childPath]
			if !containsString(node.Aliases, segment) {
				node.Aliases = append(node.Aliases, segment)
			}
		}
		parentPath = childPath
	}
	return parentPath, nil
}

// canonicalizeSegment finds the sibling under parentPath closest to segment
// within fuzzyThreshold(segment) edits. If no sibling is within the
// threshold, or several tie at the closest distance, segment itself becomes
// (or remains) canonical.
func (c *TopicCatalog) canonicalizeSegment(parentPath, segment string) string {
	siblings := c.childNames[parentPath]
	threshold := fuzzyThreshold(segment)

	var best string
	bestDist := threshold + 1
	matches := 0
	for _, sibling := range siblings {
		if sibling == segment {
			return sibling
		}
		d := levenshtein(strings.ToLower(sibling), strings.ToLower(segment))
		if d > threshold {
			continue
		}
		if d < bestDist {
			best, bestDist, matches = sibling, d, 1
		} else if d == bestDist {
			matches++
		}
	}
	if matches == 1 {
		return best
	}
	return segment
}

// AddMember resolves topic and records volumeID as belonging to it,
// removing any prior membership the volume held. It returns the
// canonical topic path the volume now belongs to.
func (c *TopicCatalog) AddMember(volumeID, topic string) (string, error) {
	canonical, err := c.Resolve(topic)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeMemberLocked(volumeID)

	node, ok := c.nodes[canonical]
	if !ok {
		return "", fmt.Errorf("%w: topic %q", libcore.ErrNotFound, canonical)
	}
	if !containsString(node.Volumes, volumeID) {
		node.Volumes = append(node.Volumes, volumeID)
	}
	c.volumeTopic[volumeID] = canonical
	return canonical, nil
}

// RemoveMember drops volumeID from whichever topic it currently belongs
// to, if any.
func (c *TopicCatalog) RemoveMember(volumeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeMemberLocked(volumeID)
}

func (c *TopicCatalog) removeMemberLocked(volumeID string) {
	topic, ok := c.volumeTopic[volumeID]
	if !ok {
		return
	}
	if node, ok := c.nodes[topic]; ok {
		for i, id := range node.Volumes {
			if id == volumeID {
				node.Volumes = append(node.Volumes[:i], node.Volumes[i+1:]...)
				break
			}
		}
	}
	delete(c.volumeTopic, volumeID)
}

// Relocate removes volumeID from its current topic, if any, and adds it
// to resolve(newTopic), returning the canonical topic it now belongs to
// (spec.md §4.3's relocate(volume_id, new_topic)).
func (c *TopicCatalog) Relocate(volumeID, newTopic string) (string, error) {
	return c.AddMember(volumeID, newTopic)
}

// Merge moves every volume in sourcePath into targetPath, redirects every
// alias (and the source path itself) to target, and deletes source
// (spec.md §4.3's merge(source, target)).
func (c *TopicCatalog) Merge(sourcePath, targetPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, ok := c.nodes[sourcePath]
	if !ok {
		return fmt.Errorf("%w: topic %q", libcore.ErrNotFound, sourcePath)
	}
	target, ok := c.nodes[targetPath]
	if !ok {
		return fmt.Errorf("%w: topic %q", libcore.ErrNotFound, targetPath)
	}
	if sourcePath == targetPath {
		return nil
	}

	for _, volumeID := range source.Volumes {
		if !containsString(target.Volumes, volumeID) {
			target.Volumes = append(target.Volumes, volumeID)
		}
		c.volumeTopic[volumeID] = targetPath
	}
	source.Volumes = nil

	for _, alias := range append(source.Aliases, source.Name) {
		if !containsString(target.Aliases, alias) && alias != target.Name {
			target.Aliases = append(target.Aliases, alias)
		}
	}

	c.fullAlias[strings.ToLower(sourcePath)] = targetPath
	for alias, dest := range c.fullAlias {
		if dest == sourcePath {
			c.fullAlias[alias] = targetPath
		}
	}

	c.detachFromParent(source)
	delete(c.nodes, sourcePath)
	return nil
}

func (c *TopicCatalog) detachFromParent(node *libcore.TopicNode) {
	siblings := c.childNames[node.Parent]
	for i, name := range siblings {
		if name == node.Name {
			c.childNames[node.Parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if parentNode, ok := c.nodes[node.Parent]; ok {
		for i, childPath := range parentNode.Children {
			if childPath == node.Path {
				parentNode.Children = append(parentNode.Children[:i], parentNode.Children[i+1:]...)
				break
			}
		}
	}
}

// Sections returns every canonical topic path currently in the catalog,
// sorted lexically.
func (c *TopicCatalog) Sections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.nodes))
	for p := range c.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Node returns the TopicNode stored for path, if any.
func (c *TopicCatalog) Node(path string) (libcore.TopicNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[path]
	if !ok {
		return libcore.TopicNode{}, false
	}
	return *node, true
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func joinAll(segments []string) string {
	return strings.Join(segments, "/")
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
