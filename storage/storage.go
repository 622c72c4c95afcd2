package storage

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/opengs/ragchunk/chunker"
)

type ProcessorVersion struct {
	// If changes, documents with older version must be rechunked and reembedded and cant be used in queries.
	Major int `json:"major"`
	// If changes, documents with older version must be rechunked and reembedded but still can be used in queries.
	Minor int `json:"minor"`

	// Model used to generate embeddings. If changes, document must be reembedded and cant be used.
	EmbeddingsModel string `json:"model"`

	// Chunking configuration. If changes, document must be rechunked.
	ChunkStrategy string `json:"chunkStrategy"`
	ChunkSize     int    `json:"chunkSize"`
	ChunkOverlap  int    `json:"chunkOverlap"`
}

type CollectionUUID string

type Collection struct {
	UUID        CollectionUUID `json:"uuid"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type DocumentUUID string

type Document struct {
	Collection CollectionUUID `json:"collection"`
	UUID       DocumentUUID   `json:"uuid"`
	ETag       string         `json:"etag"`
	// Path of the document inside its source. Unique inside the collection.
	Path  string `json:"path"`
	Title string `json:"title"`
	// First [ContentPreviewLength] characters of the document text
	ContentPreview string `json:"contentPreview"`

	ChunkCount      int     `json:"chunkCount"`
	ProcessingError *string `json:"processingError"`

	// Timestamp when this document was first found and created
	CreatedAt time.Time `json:"createdAt"`
	// Document processor version
	ProcessorVersion ProcessorVersion `json:"processorVersion"`
	// Indicates when processing of the document is finished
	ProcessingFinished *time.Time `json:"processingFinished"`
}

const ContentPreviewLength = 500

// Identifier of the stored embedding vector.
type VectorID string

type StoredChunk struct {
	Collection CollectionUUID `json:"collection"`
	Document   DocumentUUID   `json:"document"`
	chunker.Chunk
	VectorID VectorID  `json:"vectorId"`
	Vector   []float32 `json:"vector,omitempty"`
}

type SearchResult struct {
	Document Document    `json:"document"`
	Chunk    StoredChunk `json:"chunk"`
	// Cosine similarity between query and chunk vectors
	Score float32 `json:"score"`
}

var ErrCollectionDoesntExist = errors.New("collection does not exist in storage")
var ErrDocumentDoesntExist = errors.New("document does not exist in storage collection")
var ErrChunkAlreadyExists = errors.New("chunk with the same index already exists in the document")
var ErrInvalidVector = errors.New("embedding vector is empty or has wrong number of dimensions")
var ErrInvalidCollectionUUID = errors.New("collection identifier must be 1 to 255 bytes of printable UTF-8")

const MaxCollectionUUIDLength = 255

// Collection identifiers are opaque text. Control characters and invalid UTF-8 can not be stored in the database.
func ValidateCollectionUUID(collection CollectionUUID) error {
	if collection == "" || len(collection) > MaxCollectionUUIDLength || !utf8.ValidString(string(collection)) {
		return ErrInvalidCollectionUUID
	}
	if strings.ContainsFunc(string(collection), unicode.IsControl) {
		return ErrInvalidCollectionUUID
	}
	return nil
}

type Storage interface {
	// Creates collection if it does not exist. Name and description are only used during creation.
	GetOrCreateCollection(ctx context.Context, collection CollectionUUID, name string, description string) (*Collection, error)
	// Deletes collection, all its documents and chunks.
	DeleteCollection(ctx context.Context, collection CollectionUUID) error

	// Searches for document in the collection using provided path. If document doesnt exist - creates new one and returns it. New document will have `ProcessingFinished` set to nil. Returns `true` if document was created during the operation
	GetOrCreateDocument(ctx context.Context, collection CollectionUUID, path string, eTag string, processorVersion ProcessorVersion) (*Document, bool, error)
	GetDocument(ctx context.Context, collection CollectionUUID, document DocumentUUID) (*Document, error)
	// Deletes document together with all its chunks and vectors
	DeleteDocument(ctx context.Context, collection CollectionUUID, document DocumentUUID) error
	// Updates document information and sets `ProcessingFinished` to current time
	FinishDocumentProcessing(ctx context.Context, collection CollectionUUID, document DocumentUUID, title string, contentPreview string, chunkCount int, processingError string) error

	// Stores chunk keyed by (document, chunk index) together with its embedding vector
	PutChunk(ctx context.Context, collection CollectionUUID, document DocumentUUID, chunk chunker.Chunk, embeddingVector []float32) (VectorID, error)
	// Returns document chunks ordered by index
	ListChunks(ctx context.Context, collection CollectionUUID, document DocumentUUID) ([]StoredChunk, error)

	// Performs vector similarity search and returns nearest chunks. If collections array is empty, searches in all available collections
	SearchSimilarChunks(ctx context.Context, embeddingVector []float32, collections []CollectionUUID, limit uint32) ([]SearchResult, error)
}
