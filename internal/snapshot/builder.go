package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Aman-CERP/msrl/internal/ann"
	"github.com/Aman-CERP/msrl/internal/config"
	"github.com/Aman-CERP/msrl/internal/embed"
	"github.com/Aman-CERP/msrl/internal/markdown"
	"github.com/Aman-CERP/msrl/internal/outline"
	"github.com/Aman-CERP/msrl/internal/shard"
	"github.com/Aman-CERP/msrl/internal/store"
)

// Builder constructs a staged snapshot directory: a metadata store, BM25
// index, per-shard ANN indexes, and an outline index, either from scratch
// (BuildFull) or incrementally on top of a prior snapshot (BuildIncremental).
type Builder struct {
	Config   *config.Config
	Embedder embed.Embedder
}

// NewBuilder returns a Builder using cfg's chunking/sharding parameters and
// the given embedder.
func NewBuilder(cfg *config.Config, embedder embed.Embedder) *Builder {
	return &Builder{Config: cfg, Embedder: embedder}
}

func (b *Builder) chunkConfig() markdown.Config {
	cfg := markdown.DefaultConfig()
	if b.Config == nil {
		return cfg
	}
	c := b.Config.Chunking
	if c.TargetMin > 0 {
		cfg.TargetMin = c.TargetMin
	}
	if c.TargetMax > 0 {
		cfg.TargetMax = c.TargetMax
	}
	if c.HardMax > 0 {
		cfg.HardMax = c.HardMax
	}
	if c.MinPreferred > 0 {
		cfg.MinPreferred = c.MinPreferred
	}
	if c.Overlap > 0 {
		cfg.OverlapTokens = c.Overlap
	}
	return cfg
}

func (b *Builder) annConfig() ann.Config {
	cfg := ann.DefaultConfig(embed.Dimensions)
	if b.Config != nil && b.Config.Faiss.NProbe > 0 {
		cfg.NProbe = b.Config.Faiss.NProbe
	}
	return cfg
}

func (b *Builder) outlineConfig() outline.Config {
	return outline.DefaultConfig()
}

// stagedLayout is the on-disk layout of a staged (or activated) snapshot
// directory. This adapts spec.md's single-file convention (outline.ann,
// shard_<NNN>.ann) to the directory-based persistence the ann and outline
// packages actually implement (each writes a small set of sidecar files,
// not one blob).
type stagedLayout struct {
	root       string
	metaPath   string
	bm25Dir    string
	outlineDir string
	shardsDir  string
}

func layout(dir string) stagedLayout {
	return stagedLayout{
		root:       dir,
		metaPath:   filepath.Join(dir, "meta.sqlite"),
		bm25Dir:    filepath.Join(dir, "bm25"),
		outlineDir: filepath.Join(dir, "outline"),
		shardsDir:  filepath.Join(dir, "shards"),
	}
}

// parsedDoc is one file's parse/chunk/embed output, kept in memory for the
// duration of a build so its leaves can be grouped by shard and its node
// tree walked for outline accumulation without a second pass over the
// metadata store.
type parsedDoc struct {
	doc    store.Doc
	tree   *markdown.HeadingTree
	leaves []store.Leaf
}

// BuildFull parses, chunks, and embeds every file in files, building the
// metadata store and all indexes from scratch in stageDir.
func (b *Builder) BuildFull(ctx context.Context, files []FileSource, stageDir string) (*BuildResult, error) {
	lay := layout(stageDir)
	if err := os.MkdirAll(lay.shardsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create shards dir: %w", err)
	}

	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	if err != nil {
		return nil, fmt.Errorf("create metadata store: %w", err)
	}
	defer metaStore.Close()

	bm25, err := store.NewProseBM25Index(lay.bm25Dir)
	if err != nil {
		return nil, fmt.Errorf("create bm25 index: %w", err)
	}
	defer bm25.Close()

	fileHashes := make(map[string]string)
	stats := Stats{}
	leavesByShard := make(map[uint32][]store.Leaf)
	docs := make([]*parsedDoc, 0, len(files))

	for _, f := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pd, hash, err := b.parseAndChunkFile(ctx, f, metaStore, bm25)
		if err != nil {
			stats.FilesFailed++
			continue
		}
		fileHashes[f.DocURI] = hash
		docs = append(docs, pd)
		stats.Docs++
		stats.Nodes += len(pd.tree.Nodes())
		stats.Leaves += len(pd.leaves)

		for _, l := range pd.leaves {
			leavesByShard[l.ShardID] = append(leavesByShard[l.ShardID], l)
		}
	}

	for shardID, leaves := range leavesByShard {
		if err := b.rebuildShard(shardID, leaves, lay.shardsDir); err != nil {
			return nil, fmt.Errorf("build shard %d: %w", shardID, err)
		}
	}
	stats.Shards = len(leavesByShard)

	outlineIdx := outline.New(b.outlineConfig())
	for _, pd := range docs {
		if err := addOutlineNodesFromParse(pd, outlineIdx); err != nil {
			return nil, fmt.Errorf("build outline for %s: %w", pd.doc.DocURI, err)
		}
	}
	if err := outlineIdx.Save(lay.outlineDir); err != nil {
		return nil, fmt.Errorf("save outline index: %w", err)
	}

	manifest := Manifest{
		Scope:              ScopeFull,
		EmbeddingModel:     b.Embedder.ModelName(),
		EmbeddingDimension: embed.Dimensions,
		ShardCount:         shard.Count,
		Stats:              stats,
		FileHashes:         fileHashes,
	}
	return &BuildResult{Manifest: manifest}, nil
}

// BuildResult is the outcome of a build: its manifest. Per-file failures
// are only counted, in Manifest.Stats.FilesFailed.
type BuildResult struct {
	Manifest Manifest
}

// BuildIncremental copies the previous snapshot's indexes into stageDir and
// applies changes atop them: deleted/modified docs are removed, added/
// modified docs are re-parsed and re-embedded, every shard touched by a
// change is rebuilt from its full current leaf membership (IVFPQ has no
// point-deletion support), and the outline index is rebuilt wholly since it
// depends on every doc's node embeddings.
func (b *Builder) BuildIncremental(ctx context.Context, prevDir, stageDir string, prevManifest Manifest, changes store.ChangeSet, changedFiles map[string]FileSource) (*BuildResult, error) {
	prevLay := layout(prevDir)
	lay := layout(stageDir)

	if dirExists(prevLay.bm25Dir) {
		if err := copyDir(prevLay.bm25Dir, lay.bm25Dir); err != nil {
			return nil, fmt.Errorf("copy bm25 index: %w", err)
		}
	}
	if err := copyFile(prevLay.metaPath, lay.metaPath, 0o644); err != nil {
		return nil, fmt.Errorf("copy metadata store: %w", err)
	}
	if dirExists(prevLay.shardsDir) {
		if err := copyDir(prevLay.shardsDir, lay.shardsDir); err != nil {
			return nil, fmt.Errorf("copy shard indexes: %w", err)
		}
	} else if err := os.MkdirAll(lay.shardsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create shards dir: %w", err)
	}

	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	if err != nil {
		return nil, fmt.Errorf("open copied metadata store: %w", err)
	}
	defer metaStore.Close()

	bm25, err := store.NewProseBM25Index(lay.bm25Dir)
	if err != nil {
		return nil, fmt.Errorf("open copied bm25 index: %w", err)
	}
	defer bm25.Close()

	touchedShards := make(map[uint32]struct{})
	stats := Stats{}
	fileHashes := make(map[string]string, len(prevManifest.FileHashes))
	for uri, h := range prevManifest.FileHashes {
		fileHashes[uri] = h
	}
	for _, uri := range changes.Deleted {
		delete(fileHashes, uri)
	}

	removed := append(append([]string{}, changes.Modified...), changes.Deleted...)
	for _, uri := range removed {
		prev, err := metaStore.GetDoc(ctx, uri)
		if err != nil || prev == nil {
			continue
		}
		leafIDs, err := metaStore.GetLeafIDsByDoc(ctx, prev.DocID)
		if err != nil {
			return nil, fmt.Errorf("list leaves for %s: %w", uri, err)
		}
		leaves, err := metaStore.GetLeavesByDoc(ctx, prev.DocID)
		if err != nil {
			return nil, fmt.Errorf("list leaf rows for %s: %w", uri, err)
		}
		for _, l := range leaves {
			touchedShards[l.ShardID] = struct{}{}
		}
		if len(leafIDs) > 0 {
			if err := bm25.Delete(ctx, leafIDs); err != nil {
				return nil, fmt.Errorf("delete bm25 entries for %s: %w", uri, err)
			}
			if err := metaStore.DeleteLeafText(ctx, leafIDs); err != nil {
				return nil, fmt.Errorf("delete leaf text for %s: %w", uri, err)
			}
		}
		if err := metaStore.DeleteDoc(ctx, prev.DocID); err != nil {
			return nil, fmt.Errorf("delete doc %s: %w", uri, err)
		}
	}

	added := append(append([]string{}, changes.Added...), changes.Modified...)
	for _, uri := range added {
		f, ok := changedFiles[uri]
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pd, hash, err := b.parseAndChunkFile(ctx, f, metaStore, bm25)
		if err != nil {
			stats.FilesFailed++
			continue
		}
		fileHashes[f.DocURI] = hash
		for _, l := range pd.leaves {
			touchedShards[l.ShardID] = struct{}{}
		}
	}

	for shardID := range touchedShards {
		leaves, err := metaStore.GetLeavesByShard(ctx, shardID)
		if err != nil {
			return nil, fmt.Errorf("load leaves for shard %d: %w", shardID, err)
		}
		if err := b.rebuildShard(shardID, leaves, lay.shardsDir); err != nil {
			return nil, fmt.Errorf("rebuild shard %d: %w", shardID, err)
		}
	}

	allDocs, err := metaStore.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}

	outlineIdx := outline.New(b.outlineConfig())
	for _, d := range allDocs {
		if err := addOutlineNodesFromStore(ctx, metaStore, d, outlineIdx); err != nil {
			return nil, fmt.Errorf("rebuild outline for %s: %w", d.DocURI, err)
		}
	}
	if err := outlineIdx.Save(lay.outlineDir); err != nil {
		return nil, fmt.Errorf("save outline index: %w", err)
	}

	docCount, nodeCount, leafCount, err := metaStore.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	stats.Docs = docCount
	stats.Nodes = nodeCount
	stats.Leaves = leafCount
	stats.Shards = countShardDirs(lay.shardsDir)

	manifest := Manifest{
		Scope:              ScopeIncremental,
		PreviousSnapshotID: prevManifest.SnapshotID,
		EmbeddingModel:     b.Embedder.ModelName(),
		EmbeddingDimension: embed.Dimensions,
		ShardCount:         shard.Count,
		Stats:              stats,
		FileHashes:         fileHashes,
	}
	return &BuildResult{Manifest: manifest}, nil
}

// parseAndChunkFile reads, normalizes, parses, chunks, embeds, and persists
// one file: doc/node/leaf rows into metaStore, leaf text for BM25 delete
// support, and the leaf texts into the BM25 index itself. Returns the
// parsed doc (for outline accumulation) and its content hash.
func (b *Builder) parseAndChunkFile(ctx context.Context, f FileSource, metaStore store.MetadataStore, bm25 store.Bm25Index) (*parsedDoc, string, error) {
	raw, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", f.AbsPath, err)
	}
	text := markdown.Normalize(raw)
	hash := hashBytes([]byte(text))

	fences := markdown.DetectFences(text)
	tree := markdown.ParseHeadings(f.DocURI, text, fences)
	shardID := shard.ShardID(f.DocURI)

	doc := store.Doc{
		DocID:  docID(f.DocURI),
		DocURI: f.DocURI,
		Mtime:  f.Mtime,
		Size:   f.Size,
		Hash:   hash,
	}
	if err := metaStore.UpsertDoc(ctx, doc); err != nil {
		return nil, "", fmt.Errorf("upsert doc: %w", err)
	}

	cfg := b.chunkConfig()
	var chunks []*markdown.Leaf
	var nodes []store.Node
	for _, node := range tree.Nodes() {
		nodes = append(nodes, store.Node{
			NodeID:      node.NodeID,
			DocID:       doc.DocID,
			Level:       node.Level,
			HeadingPath: node.HeadingPath,
			StartChar:   node.StartChar,
			EndChar:     node.EndChar,
			ShardID:     shardID,
		})
		chunks = append(chunks, markdown.ChunkNode(node, text, fences, shardID, cfg)...)
	}
	if err := metaStore.InsertNodes(ctx, nodes); err != nil {
		return nil, "", fmt.Errorf("insert nodes: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, l := range chunks {
		texts[i] = text[l.StartChar:l.EndChar]
	}
	vectors, err := b.Embedder.EmbedBatch(ctx, texts, embed.DefaultBatchSize)
	if err != nil {
		return nil, "", fmt.Errorf("embed batch: %w", err)
	}

	leaves := make([]store.Leaf, len(chunks))
	bm25Docs := make([]store.Document, len(chunks))
	for i, l := range chunks {
		var vec []float32
		if i < len(vectors) {
			vec = []float32(vectors[i])
		}
		leaves[i] = store.Leaf{
			LeafID:    l.LeafID,
			DocID:     doc.DocID,
			NodeID:    l.NodeID,
			StartChar: l.StartChar,
			EndChar:   l.EndChar,
			TextHash:  l.TextHash,
			ShardID:   l.ShardID,
			Embedding: vec,
		}
		bm25Docs[i] = store.Document{LeafID: l.LeafID, Text: texts[i], ShardID: l.ShardID}
		if err := metaStore.SaveLeafText(ctx, l.LeafID, texts[i]); err != nil {
			return nil, "", fmt.Errorf("save leaf text: %w", err)
		}
	}
	if err := metaStore.InsertLeaves(ctx, leaves); err != nil {
		return nil, "", fmt.Errorf("insert leaves: %w", err)
	}
	if err := bm25.Index(ctx, bm25Docs); err != nil {
		return nil, "", fmt.Errorf("index bm25: %w", err)
	}

	return &parsedDoc{doc: doc, tree: tree, leaves: leaves}, hash, nil
}

func countShardDirs(shardsDir string) int {
	entries, err := os.ReadDir(shardsDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}

// rebuildShard writes shardID's ANN index from leaves, its complete current
// membership. IVFPQ has no point-deletion support, so a touched shard is
// always rebuilt wholly from every leaf currently assigned to it (which may
// include unrelated, unchanged documents that happen to share the shard)
// rather than patched in place.
func (b *Builder) rebuildShard(shardID uint32, leaves []store.Leaf, shardsDir string) error {
	dir := shardDir(shardsDir, shardID)
	if len(leaves) == 0 {
		return os.RemoveAll(dir)
	}

	idx, err := ann.New(len(leaves), b.annConfig())
	if err != nil {
		return err
	}
	defer idx.Close()

	vectors := make(map[string][]float32, len(leaves))
	ids := make([]string, 0, len(leaves))
	vecs := make([][]float32, 0, len(leaves))
	for _, l := range leaves {
		if l.Embedding == nil {
			continue
		}
		vectors[l.LeafID] = l.Embedding
		ids = append(ids, l.LeafID)
		vecs = append(vecs, l.Embedding)
	}
	if len(ids) == 0 {
		return os.RemoveAll(dir)
	}
	if err := idx.Train(vectors); err != nil {
		return err
	}
	if err := idx.Add(ids, vecs); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return idx.Save(dir)
}

// addOutlineNodesFromParse accumulates descendant leaf vectors up a
// freshly-parsed doc's ancestor chain (markdown.ChunkNode only produces
// leaves for a node's own content, so descendant aggregation must walk
// HeadingNode.Parent explicitly) and adds each node's MMR-selected vector
// to the outline index.
func addOutlineNodesFromParse(pd *parsedDoc, outlineIdx *outline.Index) error {
	accum := make(map[string][][]float32)
	docShard := shard.ShardID(pd.doc.DocURI)

	for _, l := range pd.leaves {
		if l.Embedding == nil {
			continue
		}
		node, ok := pd.tree.ByID[l.NodeID]
		if !ok {
			continue
		}
		for n := node; n != nil && n.Level > 0; n = n.Parent {
			accum[n.NodeID] = append(accum[n.NodeID], l.Embedding)
		}
	}

	for _, node := range pd.tree.Nodes() {
		vecs := accum[node.NodeID]
		if len(vecs) == 0 {
			continue
		}
		nodeVec := outline.NodeVector(vecs)
		if err := outlineIdx.Add(node.NodeID, nodeVec, []uint32{docShard}); err != nil {
			return err
		}
	}
	return nil
}

// addOutlineNodesFromStore recomputes one doc's node vectors purely from
// persisted rows: a node's ancestor chain is reconstructed from its
// headingPath's "A → B → C" prefixes matched against sibling node rows,
// rather than by re-parsing the file. This lets the outline index be
// rebuilt wholly on every build (as spec requires, since it depends on all
// node embeddings) without re-reading untouched documents' content.
func addOutlineNodesFromStore(ctx context.Context, metaStore store.MetadataStore, d store.Doc, outlineIdx *outline.Index) error {
	nodes, err := metaStore.GetNodesByDoc(ctx, d.DocID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	leaves, err := metaStore.GetLeavesByDoc(ctx, d.DocID)
	if err != nil {
		return err
	}

	levelByID := make(map[string]int, len(nodes))
	for _, n := range nodes {
		levelByID[n.NodeID] = n.Level
	}

	ancestorIDs := ancestorChain(nodes)

	accum := make(map[string][][]float32)
	for _, l := range leaves {
		if l.Embedding == nil {
			continue
		}
		level, ok := levelByID[l.NodeID]
		if !ok {
			continue
		}
		if level > 0 {
			accum[l.NodeID] = append(accum[l.NodeID], l.Embedding)
		}
		for _, ancestorID := range ancestorIDs[l.NodeID] {
			accum[ancestorID] = append(accum[ancestorID], l.Embedding)
		}
	}

	docShard := shard.ShardID(d.DocURI)
	nodeIDs := make([]string, 0, len(accum))
	for id := range accum {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		vecs := accum[nodeID]
		if len(vecs) == 0 {
			continue
		}
		nodeVec := outline.NodeVector(vecs)
		if err := outlineIdx.Add(nodeID, nodeVec, []uint32{docShard}); err != nil {
			return err
		}
	}
	return nil
}

// ancestorChain maps each node's ID to the IDs of its strict ancestors
// (excluding itself), derived from headingPath prefix matching within the
// same doc's node rows.
func ancestorChain(nodes []store.Node) map[string][]string {
	byLevelAndPath := make(map[string]string) // headingPath -> nodeID, level encoded via path depth
	for _, n := range nodes {
		byLevelAndPath[n.HeadingPath] = n.NodeID
	}

	out := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		segments := splitHeadingPath(n.HeadingPath)
		var chain []string
		for i := range segments {
			if i+1 == len(segments) {
				break
			}
			prefix := joinHeadingPath(segments[:i+1])
			if id, ok := byLevelAndPath[prefix]; ok {
				chain = append(chain, id)
			}
		}
		out[n.NodeID] = chain
	}
	return out
}
