package pgvector

type PGVectorOption func(s *PGVectorStorage)

// Gives every collection its own chunk partition with a dedicated HNSW index. Without partitions all
// collections share the default partition and its index.
func WithPartitionsEnabled(enabled bool) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.partitionsEnabled = enabled
	}
}

// Size of stored chunk vectors. Must match the embedder, it is fixed in the schema by [PGVectorStorage.Install].
func WithEmbeddingVectorDimensions(dimensions uint32) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.embeddingVectorDimensions = dimensions
	}
}

// Size of the HNSW candidate list used by similarity search (hnsw.ef_search). Bigger values return
// more results when search is filtered by collections, at the cost of speed. Zero keeps the server default.
func WithSearchEfSearch(efSearch int) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.efSearch = max(efSearch, 0)
	}
}

// Database name reported to the migrator. [Open] sets it from the connection URL.
func WithDatabaseName(databaseName string) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.databaseName = databaseName
	}
}

func WithDatabaseSchema(databaseSchema string) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.databaseSchema = databaseSchema
	}
}

// Prefix of every table and index name, so several installations can share one schema.
func WithDatabasePrefix(databasePrefix string) PGVectorOption {
	return func(s *PGVectorStorage) {
		s.databasePrefix = databasePrefix
	}
}
