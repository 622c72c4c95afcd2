package testlib

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/embedder/testlib"
	"github.com/opengs/ragchunk/storage"
)

func RandString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz" + "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func RandSchemaName(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func ProcessorVersion() storage.ProcessorVersion {
	return storage.ProcessorVersion{
		Major:           1,
		Minor:           0,
		EmbeddingsModel: "test-model",
		ChunkStrategy:   "recursive",
		ChunkSize:       512,
		ChunkOverlap:    64,
	}
}

func testChunk(index int) chunker.Chunk {
	content := fmt.Sprintf("chunk number %d %s", index, RandString(8))
	return chunker.Chunk{
		Content:    content,
		Index:      index,
		TokenCount: chunker.EstimateTokenCount(content),
		Metadata:   chunker.Metadata{StartChar: index * 100, EndChar: index*100 + len(content)},
	}
}

func newCollection(t *testing.T, s storage.Storage) storage.CollectionUUID {
	t.Helper()

	collectionUUID := storage.CollectionUUID(RandString(32))
	if _, err := s.GetOrCreateCollection(t.Context(), collectionUUID, "test", "test collection"); err != nil {
		t.Fatal(err)
	}
	return collectionUUID
}

func newDocument(t *testing.T, s storage.Storage, collectionUUID storage.CollectionUUID) storage.DocumentUUID {
	t.Helper()

	document, _, err := s.GetOrCreateDocument(t.Context(), collectionUUID, "/docs/"+RandString(12)+".txt", RandString(16), ProcessorVersion())
	if err != nil {
		t.Fatal(err)
	}
	return document.UUID
}

// Runs storage conformance suite. Every storage implementation must pass it.
func TestStorage(t *testing.T, s storage.Storage, dimensions int) {
	t.Run("CreateDeleteCollection", func(t *testing.T) {
		collectionUUID := storage.CollectionUUID(RandString(32))

		collection, err := s.GetOrCreateCollection(t.Context(), collectionUUID, "name", "description")
		if err != nil {
			t.Error(err.Error())
			return
		}
		if collection.UUID != collectionUUID || collection.Name != "name" || collection.Description != "description" {
			t.Errorf("unexpected collection %+v", collection)
			return
		}

		if err := s.DeleteCollection(t.Context(), collection.UUID); err != nil {
			t.Error(err.Error())
			return
		}

		if err := s.DeleteCollection(t.Context(), collection.UUID); !errors.Is(err, storage.ErrCollectionDoesntExist) {
			t.Errorf("expected ErrCollectionDoesntExist when deleting collection twice, got %v", err)
		}
	})

	t.Run("GetOrCreateCollectionIdempotent", func(t *testing.T) {
		collectionUUID := storage.CollectionUUID(RandString(32))

		collection1, err := s.GetOrCreateCollection(t.Context(), collectionUUID, "first", "")
		if err != nil {
			t.Fatal(err)
		}
		collection2, err := s.GetOrCreateCollection(t.Context(), collectionUUID, "second", "")
		if err != nil {
			t.Fatal(err)
		}

		if collection1.UUID != collection2.UUID {
			t.Errorf("expected same collection UUID, got %s and %s", collection1.UUID, collection2.UUID)
		}
		if collection2.Name != "first" {
			t.Errorf("expected name to be kept from creation, got %s", collection2.Name)
		}
	})

	t.Run("CreateDocumentWithoutCollection", func(t *testing.T) {
		collectionUUID := storage.CollectionUUID(RandString(32))

		_, _, err := s.GetOrCreateDocument(t.Context(), collectionUUID, "/some/path/file.txt", RandString(16), ProcessorVersion())
		if !errors.Is(err, storage.ErrCollectionDoesntExist) {
			t.Errorf("expected ErrCollectionDoesntExist when creating document without collection, got %v", err)
		}
	})

	t.Run("CreateGetDocument", func(t *testing.T) {
		collectionUUID := newCollection(t, s)

		path := "/test/document1.txt"
		eTag := RandString(16)
		procVer := ProcessorVersion()

		document1, created, err := s.GetOrCreateDocument(t.Context(), collectionUUID, path, eTag, procVer)
		if err != nil {
			t.Fatal(err)
		}
		if !created {
			t.Error("expected document to be created, but created flag was false")
		}
		if document1.Path != path || document1.ETag != eTag || document1.Collection != collectionUUID {
			t.Errorf("document mismatch: expected path %s and etag %s but got %+v", path, eTag, document1)
		}
		if document1.ProcessorVersion != procVer {
			t.Errorf("expected processor version %+v, got %+v", procVer, document1.ProcessorVersion)
		}
		if document1.ProcessingFinished != nil {
			t.Error("new document must not be finished")
		}

		document2, created, err := s.GetOrCreateDocument(t.Context(), collectionUUID, path, eTag, procVer)
		if err != nil {
			t.Fatal(err)
		}
		if created {
			t.Error("expected document to be found, not created")
		}
		if document2.UUID != document1.UUID {
			t.Errorf("expected same document UUID %s but got %s", document1.UUID, document2.UUID)
		}

		document3, err := s.GetDocument(t.Context(), collectionUUID, document1.UUID)
		if err != nil {
			t.Fatal(err)
		}
		if document3.Path != path {
			t.Errorf("expected path %s, got %s", path, document3.Path)
		}

		if _, err := s.GetDocument(t.Context(), collectionUUID, "12345678"); !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist, got %v", err)
		}
	})

	t.Run("DeleteDocument", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		if err := s.DeleteDocument(t.Context(), collectionUUID, documentUUID); err != nil {
			t.Fatal(err)
		}

		err := s.DeleteDocument(t.Context(), collectionUUID, documentUUID)
		if !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist when deleting document twice, got %v", err)
		}
	})

	t.Run("FinishDocumentProcessing", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		if err := s.FinishDocumentProcessing(t.Context(), collectionUUID, documentUUID, "Title", "preview", 3, ""); err != nil {
			t.Fatal(err)
		}

		document, err := s.GetDocument(t.Context(), collectionUUID, documentUUID)
		if err != nil {
			t.Fatal(err)
		}
		if document.ProcessingFinished == nil {
			t.Error("expected document processing to be finished")
		}
		if document.Title != "Title" || document.ContentPreview != "preview" || document.ChunkCount != 3 {
			t.Errorf("unexpected document info %+v", document)
		}
		if document.ProcessingError != nil {
			t.Errorf("expected no processing error, got %s", *document.ProcessingError)
		}

		if err := s.FinishDocumentProcessing(t.Context(), collectionUUID, documentUUID, "", "", 0, "failed to embed"); err != nil {
			t.Fatal(err)
		}
		document, err = s.GetDocument(t.Context(), collectionUUID, documentUUID)
		if err != nil {
			t.Fatal(err)
		}
		if document.ProcessingError == nil || *document.ProcessingError != "failed to embed" {
			t.Errorf("expected processing error to be stored, got %v", document.ProcessingError)
		}

		err = s.FinishDocumentProcessing(t.Context(), collectionUUID, "87654321", "", "", 0, "")
		if !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist, got %v", err)
		}
	})

	t.Run("PutListChunks", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		// Inserted out of order, listed by index
		order := []int{2, 0, 1}
		chunks := make(map[int]chunker.Chunk)
		for _, index := range order {
			chunk := testChunk(index)
			chunks[index] = chunk

			vectorID, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, chunk, testlib.RandNormalizedEmbedding(dimensions))
			if err != nil {
				t.Fatal(err)
			}
			if vectorID == "" {
				t.Error("expected non empty vector ID")
			}
		}

		stored, err := s.ListChunks(t.Context(), collectionUUID, documentUUID)
		if err != nil {
			t.Fatal(err)
		}
		if len(stored) != len(order) {
			t.Fatalf("expected %d chunks, got %d", len(order), len(stored))
		}
		for i, chunk := range stored {
			if chunk.Chunk != chunks[i] {
				t.Errorf("chunk %d mismatch: expected %+v, got %+v", i, chunks[i], chunk.Chunk)
			}
			if chunk.Document != documentUUID || chunk.Collection != collectionUUID {
				t.Errorf("chunk %d has wrong owner %s/%s", i, chunk.Collection, chunk.Document)
			}
			if len(chunk.Vector) != dimensions {
				t.Errorf("chunk %d has vector of %d dimensions", i, len(chunk.Vector))
			}
		}
	})

	t.Run("PutChunkDuplicateIndex", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(0), testlib.RandNormalizedEmbedding(dimensions)); err != nil {
			t.Fatal(err)
		}

		_, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(0), testlib.RandNormalizedEmbedding(dimensions))
		if !errors.Is(err, storage.ErrChunkAlreadyExists) {
			t.Errorf("expected ErrChunkAlreadyExists, got %v", err)
		}
	})

	t.Run("PutChunkInvalidVector", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		invalidVectors := [][]float32{
			nil,
			{},
			testlib.RandNormalizedEmbedding(dimensions + 1),
		}

		for i, vec := range invalidVectors {
			_, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(i), vec)
			if !errors.Is(err, storage.ErrInvalidVector) {
				t.Errorf("expected ErrInvalidVector for invalid vector #%d but got %v", i, err)
			}
		}
	})

	t.Run("PutChunkWithoutDocument", func(t *testing.T) {
		collectionUUID := newCollection(t, s)

		_, err := s.PutChunk(t.Context(), collectionUUID, "999999999", testChunk(0), testlib.RandNormalizedEmbedding(dimensions))
		if !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist, got %v", err)
		}

		if _, err := s.ListChunks(t.Context(), collectionUUID, "999999999"); !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist, got %v", err)
		}
	})

	t.Run("PutChunkAndSearch", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		chunk := testChunk(0)
		vector := testlib.RandNormalizedEmbedding(dimensions)
		if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, chunk, vector); err != nil {
			t.Fatal(err)
		}

		results, err := s.SearchSimilarChunks(t.Context(), vector, []storage.CollectionUUID{collectionUUID}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Fatalf("expected exactly one result, got %d", len(results))
		}
		if results[0].Chunk.Content != chunk.Content || results[0].Document.UUID != documentUUID {
			t.Errorf("unexpected search result %+v", results[0])
		}
		if results[0].Score < 0.99 {
			t.Errorf("expected score close to 1 for the same vector, got %f", results[0].Score)
		}

		resultsAll, err := s.SearchSimilarChunks(t.Context(), vector, []storage.CollectionUUID{}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(resultsAll) == 0 {
			t.Error("expected at least one result searching all collections, got none")
		}
	})

	t.Run("SearchInvalidVector", func(t *testing.T) {
		if _, err := s.SearchSimilarChunks(t.Context(), []float32{}, nil, 10); !errors.Is(err, storage.ErrInvalidVector) {
			t.Errorf("expected ErrInvalidVector, got %v", err)
		}
	})

	t.Run("MultiCollectionSearchIncludesAndExcludesCorrectly", func(t *testing.T) {
		numCollections := 3
		documentsPerCollection := 10
		chunksPerDocument := 3

		type vecEntry struct {
			vector     []float32
			document   storage.DocumentUUID
			index      int
			collection storage.CollectionUUID
		}

		var entries []vecEntry
		var collectionUUIDs []storage.CollectionUUID

		for cIdx := 0; cIdx < numCollections; cIdx++ {
			collectionUUID := newCollection(t, s)
			collectionUUIDs = append(collectionUUIDs, collectionUUID)

			for dIdx := 0; dIdx < documentsPerCollection; dIdx++ {
				documentUUID := newDocument(t, s, collectionUUID)

				for i := 0; i < chunksPerDocument; i++ {
					vector := testlib.RandNormalizedEmbedding(dimensions)
					if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(i), vector); err != nil {
						t.Fatalf("failed to put chunk: %v", err)
					}

					entries = append(entries, vecEntry{
						vector:     vector,
						document:   documentUUID,
						index:      i,
						collection: collectionUUID,
					})
				}
			}
		}

		selected := entries[rand.Intn(len(entries))]
		contains := func(results []storage.SearchResult) bool {
			for _, res := range results {
				if res.Document.UUID == selected.document && res.Chunk.Index == selected.index {
					return true
				}
			}
			return false
		}

		resultsCorrect, err := s.SearchSimilarChunks(t.Context(), selected.vector, []storage.CollectionUUID{selected.collection}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if !contains(resultsCorrect) {
			t.Error("chunk not found in correct collection search")
		}

		resultsAll, err := s.SearchSimilarChunks(t.Context(), selected.vector, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		if !contains(resultsAll) {
			t.Error("chunk not found in global search")
		}

		var wrongCollection storage.CollectionUUID
		for _, cid := range collectionUUIDs {
			if cid != selected.collection {
				wrongCollection = cid
				break
			}
		}

		resultsWrong, err := s.SearchSimilarChunks(t.Context(), selected.vector, []storage.CollectionUUID{wrongCollection}, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, res := range resultsWrong {
			if res.Document.Collection != wrongCollection {
				t.Error("search returned chunk from collection that was not requested")
				break
			}
		}
		if contains(resultsWrong) {
			t.Error("chunk should not be found in wrong collection search")
		}
	})

	t.Run("SearchLimitRespected", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		for i := 0; i < 20; i++ {
			if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(i), testlib.RandNormalizedEmbedding(dimensions)); err != nil {
				t.Fatal(err)
			}
		}

		results, err := s.SearchSimilarChunks(t.Context(), testlib.RandNormalizedEmbedding(dimensions), []storage.CollectionUUID{collectionUUID}, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) == 0 || len(results) > 5 {
			t.Errorf("expected up to 5 results, got %d", len(results))
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Errorf("results are not ordered by score: %f after %f", results[i].Score, results[i-1].Score)
			}
		}
	})

	t.Run("DeleteDocumentDeletesChunks", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		vector := testlib.RandNormalizedEmbedding(dimensions)
		if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(0), vector); err != nil {
			t.Fatal(err)
		}

		if err := s.DeleteDocument(t.Context(), collectionUUID, documentUUID); err != nil {
			t.Fatal(err)
		}

		results, err := s.SearchSimilarChunks(t.Context(), vector, []storage.CollectionUUID{collectionUUID}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("expected 0 results after document deletion, got %d", len(results))
		}
	})

	t.Run("DeleteCollectionCleansAll", func(t *testing.T) {
		collectionUUID := newCollection(t, s)
		documentUUID := newDocument(t, s, collectionUUID)

		vector := testlib.RandNormalizedEmbedding(dimensions)
		if _, err := s.PutChunk(t.Context(), collectionUUID, documentUUID, testChunk(0), vector); err != nil {
			t.Fatal(err)
		}

		if err := s.DeleteCollection(t.Context(), collectionUUID); err != nil {
			t.Fatal(err)
		}

		results, err := s.SearchSimilarChunks(t.Context(), vector, []storage.CollectionUUID{collectionUUID}, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("expected 0 results after collection deletion, got %d", len(results))
		}

		if _, err := s.GetDocument(t.Context(), collectionUUID, documentUUID); !errors.Is(err, storage.ErrDocumentDoesntExist) {
			t.Errorf("expected ErrDocumentDoesntExist after collection deletion, got %v", err)
		}
	})

	t.Run("ConcurrentPutAndSearch", func(t *testing.T) {
		collectionUUID := newCollection(t, s)

		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				document, _, err := s.GetOrCreateDocument(t.Context(), collectionUUID, fmt.Sprintf("/concurrent/%d.txt", i), "etag", ProcessorVersion())
				if err != nil {
					errs <- err
					return
				}
				if _, err := s.PutChunk(t.Context(), collectionUUID, document.UUID, testChunk(0), testlib.RandNormalizedEmbedding(dimensions)); err != nil {
					errs <- err
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := s.SearchSimilarChunks(t.Context(), testlib.RandNormalizedEmbedding(dimensions), []storage.CollectionUUID{collectionUUID}, 5); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Error(err.Error())
		}

		for i := 0; i < 20; i++ {
			document, created, err := s.GetOrCreateDocument(t.Context(), collectionUUID, fmt.Sprintf("/concurrent/%d.txt", i), "etag", ProcessorVersion())
			if err != nil {
				t.Fatal(err)
			}
			if created {
				t.Errorf("document %d was not created concurrently", i)
			}

			chunks, err := s.ListChunks(t.Context(), collectionUUID, document.UUID)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) != 1 {
				t.Errorf("expected 1 chunk in document %d, got %d", i, len(chunks))
			}
		}
	})
}
