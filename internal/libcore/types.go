package libcore

import (
	"regexp"
	"time"
)

// Volume is a single stored entry: free-form text, its embedding, and the
// bookkeeping VectorIndex/Stacks/LearningEngine need to rank and retrieve it.
type Volume struct {
	ID        string
	Text      string
	Embedding []float32
	Topic     string
	CreatedAt time.Time
	// AccessCount and LastAccessedAt back the recency/frequency ranking
	// terms; both are mutated in place by Stacks.Search for every volume it
	// scores. Lookups by id do not change them.
	AccessCount    int
	LastAccessedAt time.Time
	// Metadata carries caller-supplied key/value tags. Reserved keys:
	// topic, tags, entryType, librarian, and rel:<type>:<id> for edges.
	Metadata map[string]string
}

// ScoredVolume pairs a Volume with the ranking score that produced it in a
// search result set, plus the individual component scores that contributed
// to it (spec.md §3 Lookup). Any component may be nil when that component
// did not participate in the ranking.
type ScoredVolume struct {
	Volume Volume
	Score  float64

	VectorScore    *float64
	RecencyScore   *float64
	FrequencyScore *float64
	GraphBoost     *float64
	LearningBoost  *float64
}

// EdgeType enumerates the GraphIndex relationship vocabulary (spec.md §4.2).
// Related and Contradicts are symmetric (each is its own inverse); every
// other type is directed and auto-creates its named inverse on insertion
// (Parent/Child, Supports/SupportedBy, FollowsFrom/PrecededBy).
type EdgeType string

const (
	EdgeRelated     EdgeType = "related"
	EdgeParent      EdgeType = "parent"
	EdgeChild       EdgeType = "child"
	EdgeContradicts EdgeType = "contradicts"
	EdgeSupports    EdgeType = "supports"
	EdgeSupportedBy EdgeType = "supported_by"
	EdgeFollowsFrom EdgeType = "follows_from"
	EdgePrecededBy  EdgeType = "preceded_by"
)

// Inverse returns the edge type auto-created on the target node when an
// edge of this type is inserted from source to target.
func (t EdgeType) Inverse() EdgeType {
	switch t {
	case EdgeRelated, EdgeContradicts:
		return t
	case EdgeParent:
		return EdgeChild
	case EdgeChild:
		return EdgeParent
	case EdgeSupports:
		return EdgeSupportedBy
	case EdgeSupportedBy:
		return EdgeSupports
	case EdgeFollowsFrom:
		return EdgePrecededBy
	case EdgePrecededBy:
		return EdgeFollowsFrom
	default:
		return t
	}
}

// EdgeOrigin distinguishes edges created directly from rel:* metadata at
// insertion time (Explicit) from edges derived later, e.g. by learning
// (Derived). An auto-created inverse takes the origin of the edge that
// created it.
type EdgeOrigin string

const (
	EdgeExplicit EdgeOrigin = "explicit"
	EdgeDerived  EdgeOrigin = "derived"
)

// Edge is a directed arc in the knowledge graph between two volume ids.
type Edge struct {
	From   string
	To     string
	Type   EdgeType
	Origin EdgeOrigin
}

// TopicNode is a node in the hierarchical topic catalog: a canonical path
// segment, the fuzzy-match aliases folded into it, and the set of volume
// ids currently filed under it.
type TopicNode struct {
	Name     string
	Path     string
	Parent   string
	Aliases  []string
	Children []string
	Volumes  []string
}

// RankingWeights is the {vector, recency, frequency} profile LearningEngine
// adapts per topic (spec.md §4.5), bounded to [0.05, 0.9] and renormalized
// to sum to 1 after every adjustment.
type RankingWeights struct {
	Vector    float64
	Recency   float64
	Frequency float64
}

// LibrarianPermissions gates what a librarian's owning operations are
// allowed to do to the catalog.
type LibrarianPermissions struct {
	Add        bool `json:"add"`
	Delete     bool `json:"delete"`
	Reorganize bool `json:"reorganize"`
}

// LibrarianThresholds holds the topicComplexity and escalateAt values of a
// librarian definition file. CirculationDesk does not read them; its
// triggers come from circulation.Thresholds.
type LibrarianThresholds struct {
	TopicComplexity float64 `json:"topicComplexity"`
	EscalateAt      float64 `json:"escalateAt"`
}

// LibrarianACP is an optional text-generator connection spec for a
// librarian backed by an external agent process rather than the registry's
// default generator.
type LibrarianACP struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	AgentID string   `json:"agentId"`
}

// LibrarianDefinition is the on-disk JSON shape LibrarianRegistry loads from
// its definitions directory (spec.md §3, §4.8, §6).
type LibrarianDefinition struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Purpose     string               `json:"purpose"`
	Topics      []string             `json:"topics"`
	Permissions LibrarianPermissions `json:"permissions"`
	Thresholds  LibrarianThresholds  `json:"thresholds"`
	ACP         *LibrarianACP        `json:"acp,omitempty"`

	// Prompt and BidWeight are not part of the on-disk schema; they seed
	// the heuristic bid_confidence used in place of a live bid() prompt
	// call until a generator-backed bidder is wired in.
	Prompt    string  `json:"-"`
	BidWeight float64 `json:"-"`
}

// librarianNamePattern is the spec.md §3 invariant on LibrarianDefinition.Name.
var librarianNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidLibrarianName reports whether name satisfies the kebab-case pattern
// LibrarianDefinition.Name is required to match.
func ValidLibrarianName(name string) bool {
	return librarianNamePattern.MatchString(name)
}

// JobKind enumerates the four CirculationDesk background job kinds
// (spec.md §4.9).
type JobKind string

const (
	JobExtraction     JobKind = "extraction"
	JobCompendium     JobKind = "compendium"
	JobReorganization JobKind = "reorganization"
	JobOptimization   JobKind = "optimization"
)

// CompendiumResult is the outcome of synthesizing a compendium from a set
// of source volumes (spec.md §4.7).
type CompendiumResult struct {
	Text             string
	SourceIDs        []string
	DeletedOriginals bool
}

// Job is a single queued unit of CirculationDesk work.
type Job struct {
	Kind       JobKind
	Topic      string
	VolumeIDs  []string
	EnqueuedAt time.Time
}
