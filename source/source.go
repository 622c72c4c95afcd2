package source

import (
	"context"
	"errors"
	"io"
)

// Returned while reading a document whose content can not be turned into plain text.
var ErrUnsupportedDocument = errors.New("document type is not supported")

type DocumentProcessingStartedEvent struct {
	// Unique identifier of the processing. Same for all events during same processing
	UUID string
	// Path to the processed document
	Path string
	// Document user metadata
	UserMetadata any
}

type DocumentProcessingRunningEvent struct {
	// Unique identifier of the processing. Same for all events during same processing
	UUID string
	// Path to the processed document
	Path string
	// Document user metadata
	UserMetadata any
	// Progress in percentages from 0 to 100
	Progress uint8
}

type DocumentProcessingDoneReason string

const DocumentProcessingOk DocumentProcessingDoneReason = "OK"
const DocumentProcessingSkipped DocumentProcessingDoneReason = "SKIPPED"
const DocumentProcessingError DocumentProcessingDoneReason = "ERROR"
const DocumentProcessingAborted DocumentProcessingDoneReason = "ABORTED"

type DocumentProcessingDoneEvent struct {
	// Unique identifier of the processing. Same for all events during same processing
	UUID string
	// Path to the processed document
	Path string
	// Document user metadata
	UserMetadata any
	// Why processing finished
	Reason DocumentProcessingDoneReason
	// Only valid if reason is ERROR
	Error error
	// Number of chunks stored for the document
	ChunkCount int
}

// Place where documents are located
type Source interface {
	UUID() string
	// Open data source for iteration
	Open() (Iterator, error)

	// Notify source that processing of the document is started.
	NotifyDocumentProcessingStarted(ctx context.Context, event DocumentProcessingStartedEvent) error
	// Notify source that processing of the document is still running. Emitted after every embedded chunk.
	// Event handling blocks processing and stops it if returns error. Separate done event will be emited if this handler return error.
	NotifyDocumentProcessingRunning(ctx context.Context, event DocumentProcessingRunningEvent) error
	// Notify source that processing of the document is finished
	NotifyDocumentProcessingDone(ctx context.Context, event DocumentProcessingDoneEvent) error
}

// Opened data source
type Iterator interface {
	io.Closer

	// Get and open next document. Thread safe. If there are no documents left, returns [io.EOF] error
	Next(ctx context.Context) (DocumentHandler, error)
}

// Reading the handler yields plain text of the document.
type DocumentHandler interface {
	io.ReadCloser

	// Unique identifier of the document content
	ETag() string
	// Path to the document in the data source
	Path() string

	// Arbitrary metadata created by user that is used inside user application. Will be passed to source during events.
	UserMetadata() any
}
