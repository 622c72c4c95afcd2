package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/storage"
	"github.com/opengs/ragchunk/storage/pgvector/migrations"
	pgv "github.com/pgvector/pgvector-go"
)

const uniqueViolationCode = "23505"

type PGVectorStorage struct {
	db *sql.DB

	partitionsEnabled         bool
	embeddingVectorDimensions uint32
	efSearch                  int

	databaseName   string
	databaseSchema string
	databasePrefix string

	collectionTable string
	documentTable   string
	chunkTable      string
}

func NewPGVectorStorage(db *sql.DB, options ...PGVectorOption) *PGVectorStorage {
	storage := &PGVectorStorage{
		db:                        db,
		partitionsEnabled:         false,
		embeddingVectorDimensions: 768,
		databaseName:              "postgres",
		databaseSchema:            "public",
		databasePrefix:            "ragchunk_",
	}

	for _, option := range options {
		option(storage)
	}

	storage.collectionTable = fmt.Sprintf("%s.%scollection", storage.databaseSchema, storage.databasePrefix)
	storage.documentTable = fmt.Sprintf("%s.%sdocument", storage.databaseSchema, storage.databasePrefix)
	storage.chunkTable = fmt.Sprintf("%s.%schunk", storage.databaseSchema, storage.databasePrefix)

	return storage
}

// Connects to the database using postgres connection URL and pgx driver.
func Open(ctx context.Context, databaseURL string, options ...PGVectorOption) (*PGVectorStorage, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Join(errors.New("failed to parse database URL"), err)
	}

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Join(errors.New("failed to connect to the database"), err)
	}

	options = append([]PGVectorOption{WithDatabaseName(cfg.Database)}, options...)
	return NewPGVectorStorage(db, options...), nil
}

func (s *PGVectorStorage) Close() error {
	return s.db.Close()
}

// Creates configured database schema if it does not exist yet.
func (s *PGVectorStorage) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.databaseSchema); err != nil {
		return errors.Join(errors.New("failed to create database schema"), err)
	}
	return nil
}

// Drops configured database schema together with everything inside it.
func (s *PGVectorStorage) DropSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+s.databaseSchema+" CASCADE"); err != nil {
		return errors.Join(errors.New("failed to drop database schema"), err)
	}
	return nil
}

func (s *PGVectorStorage) migrator() (*migrate.Migrate, error) {
	migrationFiles, err := migrations.PrepareMigrations(s.databaseSchema, s.databasePrefix, s.embeddingVectorDimensions)
	if err != nil {
		return nil, errors.Join(errors.New("failed to prepare migration files"), err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		SchemaName:      s.databaseSchema,
		MigrationsTable: fmt.Sprintf("%smigrations", s.databasePrefix),
	})
	if err != nil {
		return nil, errors.Join(errors.New("failed to create postgres migration driver"), err)
	}

	migrationsSource, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, errors.Join(errors.New("failed to open postgres migrations source"), err)
	}

	migrator, err := migrate.NewWithInstance("migrations", migrationsSource, s.databaseName, driver)
	if err != nil {
		return nil, errors.Join(errors.New("failed to create migrator"), err)
	}

	return migrator, nil
}

// Make sure that all the tables are created inside PGVector and its ready to work. You can run this safely several times.
func (s *PGVectorStorage) Install(ctx context.Context) error {
	migrator, err := s.migrator()
	if err != nil {
		return err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Join(errors.New("error while performing migration on the database"), err)
	}

	return nil
}

// Completely removes itself from the database
func (s *PGVectorStorage) UnInstall(ctx context.Context) error {
	migrator, err := s.migrator()
	if err != nil {
		return err
	}

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Join(errors.New("error while reverting migrations on the database"), err)
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE "+fmt.Sprintf("%s.%smigrations", s.databaseSchema, s.databasePrefix)); err != nil {
		return errors.Join(errors.New("failed to drop migrations table"), err)
	}

	return nil
}

func (s *PGVectorStorage) partitionTable(collectionID int) string {
	return fmt.Sprintf("%s_%d", s.chunkTable, collectionID)
}

func (s *PGVectorStorage) GetOrCreateCollection(ctx context.Context, collectionUUID storage.CollectionUUID, name string, description string) (*storage.Collection, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, errors.Join(errors.New("failed to begin collection creation transaction in database"), err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			uuid,
			name,
			description
		)
		VALUES ($1, $2, $3)
		ON CONFLICT (uuid) DO UPDATE SET uuid = EXCLUDED.uuid
		RETURNING collection_id, name, description, created_at
	`, s.collectionTable)
	var collectionID int
	collection := storage.Collection{UUID: collectionUUID}
	if err := tx.QueryRowContext(ctx, query, collectionUUID, name, description).Scan(&collectionID, &collection.Name, &collection.Description, &collection.CreatedAt); err != nil {
		return nil, errors.Join(errors.New("failed to insert new collection to the database"), err)
	}

	if s.partitionsEnabled {
		partitionQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s
			PARTITION OF %s
			FOR VALUES IN (%d)
		`, s.partitionTable(collectionID), s.chunkTable, collectionID)
		if _, err := tx.ExecContext(ctx, partitionQuery); err != nil {
			return nil, errors.Join(errors.New("failed to create partition for chunk table in the database"), err)
		}

		partitionIndexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%schunk_%d_embedding
			ON %s
			USING hnsw (embedding vector_cosine_ops)
		`, s.databasePrefix, collectionID, s.partitionTable(collectionID))
		if _, err := tx.ExecContext(ctx, partitionIndexQuery); err != nil {
			return nil, errors.Join(errors.New("failed to create index on partition of chunk table in the database"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Join(errors.New("failed to commit collection creation transaction in the database"), err)
	}

	return &collection, nil
}

func (s *PGVectorStorage) DeleteCollection(ctx context.Context, collectionUUID storage.CollectionUUID) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Join(errors.New("failed to begin collection deletion transaction in database"), err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE uuid = $1
		RETURNING collection_id
	`, s.collectionTable)
	var collectionID int
	if err := tx.QueryRowContext(ctx, query, collectionUUID).Scan(&collectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrCollectionDoesntExist
		}

		return errors.Join(errors.New("failed to delete collection from the database"), err)
	}

	if s.partitionsEnabled {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.partitionTable(collectionID)); err != nil {
			return errors.Join(errors.New("failed to drop collection partition of chunk table"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Join(errors.New("failed to commit collection deletion transaction in the database"), err)
	}

	return nil
}

const documentColumns = `d.document_id, c.uuid, d.path, d.etag, d.title, d.content_preview, d.chunk_count, d.processing_error,
	d.processor_major, d.processor_minor, d.embeddings_model, d.chunk_strategy, d.chunk_size, d.chunk_overlap,
	d.created_at, d.processing_finished`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, extra ...any) (*storage.Document, error) {
	var documentID uint64
	var document storage.Document
	dest := []any{
		&documentID,
		&document.Collection,
		&document.Path,
		&document.ETag,
		&document.Title,
		&document.ContentPreview,
		&document.ChunkCount,
		&document.ProcessingError,
		&document.ProcessorVersion.Major,
		&document.ProcessorVersion.Minor,
		&document.ProcessorVersion.EmbeddingsModel,
		&document.ProcessorVersion.ChunkStrategy,
		&document.ProcessorVersion.ChunkSize,
		&document.ProcessorVersion.ChunkOverlap,
		&document.CreatedAt,
		&document.ProcessingFinished,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	document.UUID = storage.DocumentUUID(strconv.FormatUint(documentID, 10))
	return &document, nil
}

func parseDocumentUUID(document storage.DocumentUUID) (uint64, error) {
	documentID, err := strconv.ParseUint(string(document), 10, 64)
	if err != nil {
		return 0, storage.ErrDocumentDoesntExist
	}
	return documentID, nil
}

func (s *PGVectorStorage) GetOrCreateDocument(ctx context.Context, collectionUUID storage.CollectionUUID, path string, eTag string, processorVersion storage.ProcessorVersion) (*storage.Document, bool, error) {
	query := fmt.Sprintf(`
		WITH collection_lookup AS (
			SELECT collection_id
			FROM %[1]s
			WHERE uuid = $1
		), ins AS (
			INSERT INTO %[2]s (
				collection_id,
				path,
				etag,
				processor_major,
				processor_minor,
				embeddings_model,
				chunk_strategy,
				chunk_size,
				chunk_overlap
			)
			SELECT collection_lookup.collection_id, $2, $3, $4, $5, $6, $7, $8, $9 FROM collection_lookup
			ON CONFLICT (collection_id, path) DO NOTHING
			RETURNING *
		)
		SELECT %[3]s, true AS inserted
		FROM ins d
		JOIN %[1]s c ON c.collection_id = d.collection_id
		UNION ALL
		SELECT %[3]s, false AS inserted
		FROM %[2]s d
		JOIN %[1]s c ON c.collection_id = d.collection_id
		WHERE NOT EXISTS (SELECT 1 FROM ins) AND c.uuid = $1 AND d.path = $2
	`, s.collectionTable, s.documentTable, documentColumns)

	var inserted bool
	document, err := scanDocument(s.db.QueryRowContext(ctx, query,
		collectionUUID,
		path,
		eTag,
		processorVersion.Major,
		processorVersion.Minor,
		processorVersion.EmbeddingsModel,
		processorVersion.ChunkStrategy,
		processorVersion.ChunkSize,
		processorVersion.ChunkOverlap,
	), &inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, storage.ErrCollectionDoesntExist
		}

		return nil, false, errors.Join(errors.New("failed to get or create document in the database"), err)
	}

	return document, inserted, nil
}

func (s *PGVectorStorage) GetDocument(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) (*storage.Document, error) {
	documentID, err := parseDocumentUUID(documentUUID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s d
		JOIN %s c ON c.collection_id = d.collection_id
		WHERE c.uuid = $1 AND d.document_id = $2
	`, documentColumns, s.documentTable, s.collectionTable)
	document, err := scanDocument(s.db.QueryRowContext(ctx, query, collectionUUID, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentDoesntExist
		}

		return nil, errors.Join(errors.New("failed to get document from the database"), err)
	}

	return document, nil
}

func (s *PGVectorStorage) DeleteDocument(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) error {
	documentID, err := parseDocumentUUID(documentUUID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		DELETE FROM %[1]s d
		USING %[2]s c
		WHERE c.uuid = $1
			AND d.collection_id = c.collection_id
			AND d.document_id = $2
		RETURNING d.document_id
	`, s.documentTable, s.collectionTable)
	var returnedDocumentID uint64
	if err := s.db.QueryRowContext(ctx, query, collectionUUID, documentID).Scan(&returnedDocumentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrDocumentDoesntExist
		}

		return errors.Join(errors.New("failed to delete document from the database"), err)
	}

	return nil
}

func (s *PGVectorStorage) FinishDocumentProcessing(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID, title string, contentPreview string, chunkCount int, processingError string) error {
	documentID, err := parseDocumentUUID(documentUUID)
	if err != nil {
		return err
	}

	var errorValue *string
	if processingError != "" {
		errorValue = &processingError
	}

	query := fmt.Sprintf(`
		UPDATE %[1]s d
		SET
			processing_finished = NOW(),
			title = $3,
			content_preview = $4,
			chunk_count = $5,
			processing_error = $6
		FROM %[2]s c
		WHERE d.collection_id = c.collection_id
			AND c.uuid = $1
			AND d.document_id = $2
		RETURNING d.document_id
	`, s.documentTable, s.collectionTable)
	var returnedDocumentID uint64
	if err := s.db.QueryRowContext(ctx, query, collectionUUID, documentID, title, contentPreview, chunkCount, errorValue).Scan(&returnedDocumentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrDocumentDoesntExist
		}

		return errors.Join(errors.New("failed to update document info in the database"), err)
	}

	return nil
}

func (s *PGVectorStorage) validVector(vector []float32) bool {
	return len(vector) != 0 && len(vector) == int(s.embeddingVectorDimensions)
}

func (s *PGVectorStorage) PutChunk(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID, chunk chunker.Chunk, embeddingVector []float32) (storage.VectorID, error) {
	if !s.validVector(embeddingVector) {
		return "", storage.ErrInvalidVector
	}

	documentID, err := parseDocumentUUID(documentUUID)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
		WITH document_lookup AS (
			SELECT d.collection_id, d.document_id
			FROM %[1]s d
			JOIN %[2]s c ON c.collection_id = d.collection_id
			WHERE c.uuid = $1 AND d.document_id = $2
		)
		INSERT INTO %[3]s (collection_id, document_id, chunk_index, content, token_count, start_char, end_char, embedding)
		SELECT collection_id, document_id, $3, $4, $5, $6, $7, $8 FROM document_lookup
		RETURNING chunk_id
	`, s.documentTable, s.collectionTable, s.chunkTable)
	var chunkID uint64
	err = s.db.QueryRowContext(ctx, query,
		collectionUUID,
		documentID,
		chunk.Index,
		chunk.Content,
		chunk.TokenCount,
		chunk.Metadata.StartChar,
		chunk.Metadata.EndChar,
		pgv.NewVector(embeddingVector),
	).Scan(&chunkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrDocumentDoesntExist
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return "", storage.ErrChunkAlreadyExists
		}

		return "", errors.Join(errors.New("failed to insert chunk in the database"), err)
	}

	return storage.VectorID(strconv.FormatUint(chunkID, 10)), nil
}

func (s *PGVectorStorage) ListChunks(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) ([]storage.StoredChunk, error) {
	document, err := s.GetDocument(ctx, collectionUUID, documentUUID)
	if err != nil {
		return nil, err
	}
	documentID, _ := parseDocumentUUID(document.UUID)

	query := fmt.Sprintf(`
		SELECT k.chunk_id, k.chunk_index, k.content, k.token_count, k.start_char, k.end_char, k.embedding
		FROM %[1]s k
		JOIN %[2]s c ON c.collection_id = k.collection_id
		WHERE c.uuid = $1 AND k.document_id = $2
		ORDER BY k.chunk_index
	`, s.chunkTable, s.collectionTable)
	rows, err := s.db.QueryContext(ctx, query, collectionUUID, documentID)
	if err != nil {
		return nil, errors.Join(errors.New("failed to get chunks from the database"), err)
	}
	defer rows.Close()

	chunks := []storage.StoredChunk{}
	for rows.Next() {
		var chunkID uint64
		var vector pgv.Vector
		chunk := storage.StoredChunk{
			Collection: collectionUUID,
			Document:   document.UUID,
		}
		if err := rows.Scan(&chunkID, &chunk.Index, &chunk.Content, &chunk.TokenCount, &chunk.Metadata.StartChar, &chunk.Metadata.EndChar, &vector); err != nil {
			return nil, errors.Join(errors.New("failed to scan chunk row from the database"), err)
		}
		chunk.VectorID = storage.VectorID(strconv.FormatUint(chunkID, 10))
		chunk.Vector = vector.Slice()

		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(errors.New("errors while reading response from the database"), err)
	}

	return chunks, nil
}

func (s *PGVectorStorage) SearchSimilarChunks(ctx context.Context, embeddingVector []float32, collections []storage.CollectionUUID, limit uint32) ([]storage.SearchResult, error) {
	if !s.validVector(embeddingVector) {
		return nil, storage.ErrInvalidVector
	}

	collectionFilter := ""
	args := []any{pgv.NewVector(embeddingVector), limit}
	if len(collections) != 0 {
		uuids := make([]string, len(collections))
		for i, collection := range collections {
			uuids[i] = string(collection)
		}
		collectionFilter = "WHERE c.uuid = ANY($3)"
		args = append(args, uuids)
	}

	query := fmt.Sprintf(`
		SELECT
			%[1]s,

			k.chunk_id,
			k.chunk_index,
			k.content,
			k.token_count,
			k.start_char,
			k.end_char,
			k.embedding,
			1 - (k.embedding <=> $1) AS score
		FROM %[2]s k
		JOIN %[3]s c ON c.collection_id = k.collection_id
		JOIN %[4]s d ON d.document_id = k.document_id
		%[5]s
		ORDER BY k.embedding <=> $1
		LIMIT $2
	`, documentColumns, s.chunkTable, s.collectionTable, s.documentTable, collectionFilter)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Join(errors.New("failed to begin search transaction in database"), err)
	}
	defer tx.Rollback()

	if s.efSearch > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.efSearch)); err != nil {
			return nil, errors.Join(errors.New("failed to set hnsw search candidate list size"), err)
		}
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(errors.New("failed to search chunks in the database"), err)
	}
	defer rows.Close()

	results := []storage.SearchResult{}
	for rows.Next() {
		var chunkID uint64
		var vector pgv.Vector
		var score float64
		var chunk storage.StoredChunk

		document, err := scanDocument(rows,
			&chunkID,
			&chunk.Index,
			&chunk.Content,
			&chunk.TokenCount,
			&chunk.Metadata.StartChar,
			&chunk.Metadata.EndChar,
			&vector,
			&score,
		)
		if err != nil {
			return nil, errors.Join(errors.New("failed to scan search result row from the database"), err)
		}

		chunk.Collection = document.Collection
		chunk.Document = document.UUID
		chunk.VectorID = storage.VectorID(strconv.FormatUint(chunkID, 10))
		chunk.Vector = vector.Slice()

		results = append(results, storage.SearchResult{
			Document: *document,
			Chunk:    chunk,
			Score:    float32(score),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(errors.New("errors while reading response from the database"), err)
	}

	return results, nil
}

// Removes chunks of documents whose processing was started before `olderThan` but never finished.
func (s *PGVectorStorage) DeleteStaleDocuments(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE processing_finished IS NULL AND created_at < $1
	`, s.documentTable)
	result, err := s.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, errors.Join(errors.New("failed to delete stale documents from the database"), err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

var _ storage.Storage = (*PGVectorStorage)(nil)
