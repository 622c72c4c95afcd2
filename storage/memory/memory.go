// Package memory keeps collections, documents and chunks in process memory. Search is exact
// cosine similarity over all stored vectors.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/embedder/lib"
	"github.com/opengs/ragchunk/storage"
)

type memoryDocument struct {
	document storage.Document
	chunks   map[int]storage.StoredChunk
}

type memoryCollection struct {
	collection storage.Collection
	documents  map[storage.DocumentUUID]*memoryDocument
	paths      map[string]storage.DocumentUUID
}

type MemoryStorage struct {
	mu          sync.RWMutex
	dimensions  int
	collections map[storage.CollectionUUID]*memoryCollection
}

// Creates empty storage that accepts vectors with exactly `dimensions` components.
func NewMemoryStorage(dimensions int) *MemoryStorage {
	return &MemoryStorage{
		dimensions:  dimensions,
		collections: make(map[storage.CollectionUUID]*memoryCollection),
	}
}

func (s *MemoryStorage) GetOrCreateCollection(ctx context.Context, collectionUUID storage.CollectionUUID, name string, description string) (*storage.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionUUID]
	if !ok {
		c = &memoryCollection{
			collection: storage.Collection{
				UUID:        collectionUUID,
				Name:        name,
				Description: description,
				CreatedAt:   time.Now(),
			},
			documents: make(map[storage.DocumentUUID]*memoryDocument),
			paths:     make(map[string]storage.DocumentUUID),
		}
		s.collections[collectionUUID] = c
	}

	collection := c.collection
	return &collection, nil
}

func (s *MemoryStorage) DeleteCollection(ctx context.Context, collectionUUID storage.CollectionUUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collectionUUID]; !ok {
		return storage.ErrCollectionDoesntExist
	}
	delete(s.collections, collectionUUID)
	return nil
}

func (s *MemoryStorage) GetOrCreateDocument(ctx context.Context, collectionUUID storage.CollectionUUID, path string, eTag string, processorVersion storage.ProcessorVersion) (*storage.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionUUID]
	if !ok {
		return nil, false, storage.ErrCollectionDoesntExist
	}

	if documentUUID, ok := c.paths[path]; ok {
		document := c.documents[documentUUID].document
		return &document, false, nil
	}

	d := &memoryDocument{
		document: storage.Document{
			Collection:       collectionUUID,
			UUID:             storage.DocumentUUID(uuid.NewString()),
			ETag:             eTag,
			Path:             path,
			CreatedAt:        time.Now(),
			ProcessorVersion: processorVersion,
		},
		chunks: make(map[int]storage.StoredChunk),
	}
	c.documents[d.document.UUID] = d
	c.paths[path] = d.document.UUID

	document := d.document
	return &document, true, nil
}

// Must be called with lock held.
func (s *MemoryStorage) lookupDocument(collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) (*memoryCollection, *memoryDocument, error) {
	c, ok := s.collections[collectionUUID]
	if !ok {
		return nil, nil, storage.ErrDocumentDoesntExist
	}
	d, ok := c.documents[documentUUID]
	if !ok {
		return nil, nil, storage.ErrDocumentDoesntExist
	}
	return c, d, nil
}

func (s *MemoryStorage) GetDocument(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, d, err := s.lookupDocument(collectionUUID, documentUUID)
	if err != nil {
		return nil, err
	}

	document := d.document
	return &document, nil
}

func (s *MemoryStorage) DeleteDocument(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, d, err := s.lookupDocument(collectionUUID, documentUUID)
	if err != nil {
		return err
	}

	delete(c.paths, d.document.Path)
	delete(c.documents, documentUUID)
	return nil
}

func (s *MemoryStorage) FinishDocumentProcessing(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID, title string, contentPreview string, chunkCount int, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, d, err := s.lookupDocument(collectionUUID, documentUUID)
	if err != nil {
		return err
	}

	now := time.Now()
	d.document.Title = title
	d.document.ContentPreview = contentPreview
	d.document.ChunkCount = chunkCount
	d.document.ProcessingFinished = &now
	d.document.ProcessingError = nil
	if processingError != "" {
		d.document.ProcessingError = &processingError
	}

	return nil
}

func (s *MemoryStorage) PutChunk(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID, chunk chunker.Chunk, embeddingVector []float32) (storage.VectorID, error) {
	if len(embeddingVector) == 0 || len(embeddingVector) != s.dimensions {
		return "", storage.ErrInvalidVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, d, err := s.lookupDocument(collectionUUID, documentUUID)
	if err != nil {
		return "", err
	}
	if _, ok := d.chunks[chunk.Index]; ok {
		return "", storage.ErrChunkAlreadyExists
	}

	vectorID := storage.VectorID(uuid.NewString())
	d.chunks[chunk.Index] = storage.StoredChunk{
		Collection: collectionUUID,
		Document:   documentUUID,
		Chunk:      chunk,
		VectorID:   vectorID,
		Vector:     slices.Clone(embeddingVector),
	}

	return vectorID, nil
}

func (s *MemoryStorage) ListChunks(ctx context.Context, collectionUUID storage.CollectionUUID, documentUUID storage.DocumentUUID) ([]storage.StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, d, err := s.lookupDocument(collectionUUID, documentUUID)
	if err != nil {
		return nil, err
	}

	chunks := make([]storage.StoredChunk, 0, len(d.chunks))
	for _, chunk := range d.chunks {
		chunks = append(chunks, chunk)
	}
	slices.SortFunc(chunks, func(a, b storage.StoredChunk) int {
		return a.Index - b.Index
	})

	return chunks, nil
}

func (s *MemoryStorage) SearchSimilarChunks(ctx context.Context, embeddingVector []float32, collections []storage.CollectionUUID, limit uint32) ([]storage.SearchResult, error) {
	if len(embeddingVector) == 0 || len(embeddingVector) != s.dimensions {
		return nil, storage.ErrInvalidVector
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	searchIn := collections
	if len(searchIn) == 0 {
		searchIn = make([]storage.CollectionUUID, 0, len(s.collections))
		for collectionUUID := range s.collections {
			searchIn = append(searchIn, collectionUUID)
		}
	}

	results := []storage.SearchResult{}
	for _, collectionUUID := range searchIn {
		c, ok := s.collections[collectionUUID]
		if !ok {
			continue
		}

		for _, d := range c.documents {
			for _, chunk := range d.chunks {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				score, err := lib.CosineSimilarity(embeddingVector, chunk.Vector)
				if err != nil {
					return nil, err
				}
				results = append(results, storage.SearchResult{
					Document: d.document,
					Chunk:    chunk,
					Score:    score,
				})
			}
		}
	}

	slices.SortStableFunc(results, func(a, b storage.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(results) > int(limit) {
		results = results[:limit]
	}
	return results, nil
}

var _ storage.Storage = (*MemoryStorage)(nil)
