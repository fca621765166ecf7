// Package cache implements the explanation-tree cache store: a
// SQLite-backed key-value table keyed by
// "<leaf-set-hash>:<config-hash>:<language>:<audience>" (spec §4.2),
// storing the built tree as JSON so an unchanged leaf set and config can
// skip rebuilding entirely. Grounded on the teacher's
// internal/store/local_core.go local SQLite store pattern (schema init,
// WAL-mode connection), swapped from mattn/go-sqlite3 to the pure-Go modernc.org/sqlite
// driver (SPEC_FULL.md §11).
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Th0rgal/explain.md-sub002/internal/logging"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

// Store is the tree cache's SQLite-backed store.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the cache database under workspaceDir/.explainmd/cache.db.
func Open(workspaceDir string) (*Store, error) {
	dbPath := filepath.Join(workspaceDir, ".explainmd", "cache.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tree_cache (
		cache_key TEXT PRIMARY KEY,
		leaf_set_hash TEXT NOT NULL,
		config_hash TEXT NOT NULL,
		language TEXT NOT NULL,
		audience_level TEXT NOT NULL,
		tree_json TEXT NOT NULL,
		stored_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tree_cache_leaf_set ON tree_cache(leaf_set_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// cachedTree is the JSON-serializable mirror of tree.Tree stored per row.
type cachedTree struct {
	RootID  string                   `json:"rootId"`
	LeafIDs []string                 `json:"leafIds"`
	Nodes   map[string]*cachedNode   `json:"nodes"`
	ConfigHash string                `json:"configHash"`
	MaxDepth int                     `json:"maxDepth"`
}

type cachedNode struct {
	ID                  string   `json:"id"`
	Depth               int      `json:"depth"`
	IsLeaf              bool     `json:"isLeaf"`
	ChildIDs            []string `json:"childIds,omitempty"`
	Statement           string   `json:"statement"`
	WhyTrueFromChildren string   `json:"whyTrueFromChildren,omitempty"`
	NewTermsIntroduced  []string `json:"newTermsIntroduced,omitempty"`
	ComplexityScore     float64  `json:"complexityScore,omitempty"`
	AbstractionScore    float64  `json:"abstractionScore,omitempty"`
	Confidence          float64  `json:"confidence,omitempty"`
	EvidenceRefs        []string `json:"evidenceRefs,omitempty"`
}

func toCached(t *tree.Tree) cachedTree {
	nodes := make(map[string]*cachedNode, len(t.Nodes))
	for id, n := range t.Nodes {
		nodes[id] = &cachedNode{
			ID: n.ID, Depth: n.Depth, IsLeaf: n.IsLeaf, ChildIDs: n.ChildIDs,
			Statement: n.Statement, WhyTrueFromChildren: n.WhyTrueFromChildren,
			NewTermsIntroduced: n.NewTermsIntroduced, ComplexityScore: n.ComplexityScore,
			AbstractionScore: n.AbstractionScore, Confidence: n.Confidence,
			EvidenceRefs: n.EvidenceRefs,
		}
	}
	return cachedTree{RootID: t.RootID, LeafIDs: t.LeafIDs, Nodes: nodes, ConfigHash: t.ConfigHash, MaxDepth: t.MaxDepth}
}

func fromCached(c cachedTree) *tree.Tree {
	nodes := make(map[string]*tree.Node, len(c.Nodes))
	for id, n := range c.Nodes {
		nodes[id] = &tree.Node{
			ID: n.ID, Depth: n.Depth, IsLeaf: n.IsLeaf, ChildIDs: n.ChildIDs,
			Statement: n.Statement, WhyTrueFromChildren: n.WhyTrueFromChildren,
			NewTermsIntroduced: n.NewTermsIntroduced, ComplexityScore: n.ComplexityScore,
			AbstractionScore: n.AbstractionScore, Confidence: n.Confidence,
			EvidenceRefs: n.EvidenceRefs,
		}
	}
	return &tree.Tree{RootID: c.RootID, LeafIDs: c.LeafIDs, Nodes: nodes, ConfigHash: c.ConfigHash, MaxDepth: c.MaxDepth}
}

// Put stores t under the given cache key components (spec §4.2's
// "<leaf-set-hash>:<config-hash>:<language>:<audience>" key).
func (s *Store) Put(cacheKey, leafSetHash, configHash, language, audience string, t *tree.Tree) error {
	data, err := json.Marshal(toCached(t))
	if err != nil {
		return fmt.Errorf("cache: marshal tree: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO tree_cache (cache_key, leaf_set_hash, config_hash, language, audience_level, tree_json, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			leaf_set_hash=excluded.leaf_set_hash,
			config_hash=excluded.config_hash,
			language=excluded.language,
			audience_level=excluded.audience_level,
			tree_json=excluded.tree_json,
			stored_at=excluded.stored_at
	`, cacheKey, leafSetHash, configHash, language, audience, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache: upsert: %w", err)
	}

	logging.Get(logging.CategoryCache).Debug("cached tree for key %s (root=%s)", cacheKey, t.RootID)
	return nil
}

// Get returns the cached tree for cacheKey, or nil if absent.
func (s *Store) Get(cacheKey string) (*tree.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var treeJSON string
	err := s.db.QueryRow(`SELECT tree_json FROM tree_cache WHERE cache_key = ?`, cacheKey).Scan(&treeJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: query: %w", err)
	}

	var c cachedTree
	if err := json.Unmarshal([]byte(treeJSON), &c); err != nil {
		return nil, fmt.Errorf("cache: unmarshal cached tree: %w", err)
	}

	logging.Get(logging.CategoryCache).Debug("cache hit for key %s", cacheKey)
	return fromCached(c), nil
}

// Invalidate removes every cache entry for a given leaf-set-hash,
// regardless of the config/language/audience suffix (used when the leaf
// set itself changes, since every cached key under that leaf set is now
// stale).
func (s *Store) Invalidate(leafSetHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM tree_cache WHERE leaf_set_hash = ?`, leafSetHash)
	if err != nil {
		return 0, fmt.Errorf("cache: invalidate: %w", err)
	}
	return res.RowsAffected()
}
