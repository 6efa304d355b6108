package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// SQLiteStore implements MetadataStore over modernc.org/sqlite in WAL mode,
// grounded on the teacher's SQLiteBM25Index connection/pragma conventions.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS docs (
	docId  TEXT PRIMARY KEY,
	docUri TEXT UNIQUE NOT NULL,
	mtime  INTEGER NOT NULL,
	size   INTEGER NOT NULL,
	hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	nodeId      TEXT PRIMARY KEY,
	docId       TEXT NOT NULL REFERENCES docs(docId),
	level       INTEGER NOT NULL,
	headingPath TEXT NOT NULL,
	startChar   INTEGER NOT NULL,
	endChar     INTEGER NOT NULL,
	shardId     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_docId ON nodes(docId);

CREATE TABLE IF NOT EXISTS leaves (
	leafId    TEXT PRIMARY KEY,
	docId     TEXT NOT NULL REFERENCES docs(docId),
	nodeId    TEXT NOT NULL,
	startChar INTEGER NOT NULL,
	endChar   INTEGER NOT NULL,
	textHash  TEXT NOT NULL,
	shardId   INTEGER NOT NULL,
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_leaves_docId ON leaves(docId);
CREATE INDEX IF NOT EXISTS idx_leaves_shardId ON leaves(shardId);

CREATE TABLE IF NOT EXISTS leaf_text (
	leafId TEXT PRIMARY KEY,
	text   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// validateIntegrity mirrors the teacher's validateSQLiteIntegrity: opens
// read-only and runs PRAGMA integrity_check before the real connection is
// established, so a corrupted file is detected (and the caller can decide
// to recreate) rather than silently producing wrong results.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for integrity check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the metadata store at path (in-memory if
// path is empty).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata store dir: %w", err)
		}
		if err := validateIntegrity(path); err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("metadata store corrupted at %s and cannot remove: %w (original: %v)", path, rmErr, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) UpsertDoc(ctx context.Context, doc Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO docs (docId, docUri, mtime, size, hash) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(docUri) DO UPDATE SET mtime=excluded.mtime, size=excluded.size, hash=excluded.hash
	`, doc.DocID, doc.DocURI, doc.Mtime, doc.Size, doc.Hash)
	if err != nil {
		return fmt.Errorf("upsert doc %s: %w", doc.DocURI, err)
	}
	return nil
}

func (s *SQLiteStore) GetDoc(ctx context.Context, docURI string) (*Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d Doc
	err := s.db.QueryRowContext(ctx, `SELECT docId, docUri, mtime, size, hash FROM docs WHERE docUri = ?`, docURI).
		Scan(&d.DocID, &d.DocURI, &d.Mtime, &d.Size, &d.Hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get doc %s: %w", docURI, err)
	}
	return &d, nil
}

func (s *SQLiteStore) DeleteDoc(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete doc tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM leaf_text WHERE leafId IN (SELECT leafId FROM leaves WHERE docId = ?)`, docID); err != nil {
		return fmt.Errorf("delete leaf_text for doc %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM leaves WHERE docId = ?`, docID); err != nil {
		return fmt.Errorf("delete leaves for doc %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE docId = ?`, docID); err != nil {
		return fmt.Errorf("delete nodes for doc %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE docId = ?`, docID); err != nil {
		return fmt.Errorf("delete doc %s: %w", docID, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetChangedDocs(ctx context.Context, known map[string]DocState) (ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT docUri, mtime, hash FROM docs`)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]DocState)
	for rows.Next() {
		var uri, hash string
		var mtime int64
		if err := rows.Scan(&uri, &mtime, &hash); err != nil {
			return ChangeSet{}, fmt.Errorf("scan doc row: %w", err)
		}
		stored[uri] = DocState{Mtime: mtime, Hash: hash}
	}
	if err := rows.Err(); err != nil {
		return ChangeSet{}, err
	}

	var cs ChangeSet
	for uri, state := range known {
		prior, exists := stored[uri]
		if !exists {
			cs.Added = append(cs.Added, uri)
			continue
		}
		if prior.Mtime != state.Mtime || prior.Hash != state.Hash {
			cs.Modified = append(cs.Modified, uri)
		}
	}
	for uri := range stored {
		if _, exists := known[uri]; !exists {
			cs.Deleted = append(cs.Deleted, uri)
		}
	}

	return cs, nil
}

func (s *SQLiteStore) InsertNodes(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert nodes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (nodeId, docId, level, headingPath, startChar, endChar, shardId)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(nodeId) DO UPDATE SET
			level=excluded.level, headingPath=excluded.headingPath,
			startChar=excluded.startChar, endChar=excluded.endChar, shardId=excluded.shardId
	`)
	if err != nil {
		return fmt.Errorf("prepare insert nodes: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.NodeID, n.DocID, n.Level, n.HeadingPath, n.StartChar, n.EndChar, n.ShardID); err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) InsertLeaves(ctx context.Context, leaves []Leaf) error {
	if len(leaves) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert leaves tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leaves (leafId, docId, nodeId, startChar, endChar, textHash, shardId, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(leafId) DO UPDATE SET
			docId=excluded.docId, nodeId=excluded.nodeId, startChar=excluded.startChar,
			endChar=excluded.endChar, textHash=excluded.textHash, shardId=excluded.shardId,
			embedding=excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare insert leaves: %w", err)
	}
	defer stmt.Close()

	for _, l := range leaves {
		var blob []byte
		if l.Embedding != nil {
			blob = encodeEmbedding(l.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, l.LeafID, l.DocID, l.NodeID, l.StartChar, l.EndChar, l.TextHash, l.ShardID, blob); err != nil {
			return fmt.Errorf("insert leaf %s: %w", l.LeafID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetLeafMetadata(ctx context.Context, leafIDs []string) (map[string]LeafMetadata, error) {
	if len(leafIDs) == 0 {
		return map[string]LeafMetadata{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(leafIDs))
	args := make([]any, len(leafIDs))
	for i, id := range leafIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT l.leafId, d.docUri, n.headingPath, l.startChar, l.endChar
		FROM leaves l
		JOIN docs d ON d.docId = l.docId
		LEFT JOIN nodes n ON n.nodeId = l.nodeId
		WHERE l.leafId IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaf metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LeafMetadata, len(leafIDs))
	for rows.Next() {
		var m LeafMetadata
		var headingPath sql.NullString
		if err := rows.Scan(&m.LeafID, &m.DocURI, &headingPath, &m.StartChar, &m.EndChar); err != nil {
			return nil, fmt.Errorf("scan leaf metadata: %w", err)
		}
		m.HeadingPath = headingPath.String
		out[m.LeafID] = m
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLeafEmbedding(ctx context.Context, leafID string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM leaves WHERE leafId = ?`, leafID).Scan(&blob)
	if err == sql.ErrNoRows || blob == nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get leaf embedding %s: %w", leafID, err)
	}
	return decodeEmbedding(blob), true, nil
}

func (s *SQLiteStore) SetLeafEmbedding(ctx context.Context, leafID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE leaves SET embedding = ? WHERE leafId = ?`, encodeEmbedding(embedding), leafID)
	if err != nil {
		return fmt.Errorf("set leaf embedding %s: %w", leafID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveLeafText(ctx context.Context, leafID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaf_text (leafId, text) VALUES (?, ?)
		ON CONFLICT(leafId) DO UPDATE SET text=excluded.text
	`, leafID, text)
	if err != nil {
		return fmt.Errorf("save leaf text %s: %w", leafID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLeafText(ctx context.Context, leafID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM leaf_text WHERE leafId = ?`, leafID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get leaf text %s: %w", leafID, err)
	}
	return text, true, nil
}

func (s *SQLiteStore) DeleteLeafText(ctx context.Context, leafIDs []string) error {
	if len(leafIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(leafIDs))
	args := make([]any, len(leafIDs))
	for i, id := range leafIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM leaf_text WHERE leafId IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete leaf text: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLeafIDsByDoc(ctx context.Context, docID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT leafId FROM leaves WHERE docId = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("list leaf ids for doc %s: %w", docID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) GetNodeIDsByDoc(ctx context.Context, docID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT nodeId FROM nodes WHERE docId = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("list node ids for doc %s: %w", docID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) GetNodesByDoc(ctx context.Context, docID string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT nodeId, docId, level, headingPath, startChar, endChar, shardId
		FROM nodes WHERE docId = ?
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list nodes for doc %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.NodeID, &n.DocID, &n.Level, &n.HeadingPath, &n.StartChar, &n.EndChar, &n.ShardID); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLeavesByDoc(ctx context.Context, docID string) ([]Leaf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT leafId, docId, nodeId, startChar, endChar, textHash, shardId, embedding
		FROM leaves WHERE docId = ?
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list leaves for doc %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Leaf
	for rows.Next() {
		var l Leaf
		var blob []byte
		if err := rows.Scan(&l.LeafID, &l.DocID, &l.NodeID, &l.StartChar, &l.EndChar, &l.TextHash, &l.ShardID, &blob); err != nil {
			return nil, fmt.Errorf("scan leaf row: %w", err)
		}
		if blob != nil {
			l.Embedding = decodeEmbedding(blob)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLeavesByShard(ctx context.Context, shardID uint32) ([]Leaf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT leafId, docId, nodeId, startChar, endChar, textHash, shardId, embedding
		FROM leaves WHERE shardId = ?
	`, shardID)
	if err != nil {
		return nil, fmt.Errorf("list leaves for shard %d: %w", shardID, err)
	}
	defer rows.Close()

	var out []Leaf
	for rows.Next() {
		var l Leaf
		var blob []byte
		if err := rows.Scan(&l.LeafID, &l.DocID, &l.NodeID, &l.StartChar, &l.EndChar, &l.TextHash, &l.ShardID, &blob); err != nil {
			return nil, fmt.Errorf("scan leaf row: %w", err)
		}
		if blob != nil {
			l.Embedding = decodeEmbedding(blob)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDocs(ctx context.Context) ([]Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT docId, docUri, mtime, size, hash FROM docs`)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.DocID, &d.DocURI, &d.Mtime, &d.Size, &d.Hash); err != nil {
			return nil, fmt.Errorf("scan doc row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (docs, nodes, leaves int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&docs); err != nil {
		return 0, 0, 0, fmt.Errorf("count docs: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, 0, fmt.Errorf("count nodes: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaves`).Scan(&leaves); err != nil {
		return 0, 0, 0, fmt.Errorf("count leaves: %w", err)
	}
	return docs, nodes, leaves, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// encodeEmbedding packs a float32 vector as little-endian bytes, per
// spec.md §4.9 ("little-endian f32[1024]").
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
