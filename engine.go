package ragchunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/embedder"
	"github.com/opengs/ragchunk/internal/logger"
	"github.com/opengs/ragchunk/source"
	"github.com/opengs/ragchunk/storage"
	"golang.org/x/sync/errgroup"
)

const (
	ProcessorMajorVersion = 1
	ProcessorMinorVersion = 0
)

// Unfinished documents older than this are considered abandoned and processed again.
const staleProcessingTimeout = 30 * time.Minute

var ErrEmptyQuery = errors.New("search query is empty")

type EngineOption func(e *Engine)

// Sources processed by [Engine.Process]. Every source is stored in the collection with the source UUID.
func WithSources(sources ...source.Source) EngineOption {
	return func(e *Engine) {
		e.sources = append(e.sources, sources...)
	}
}

// Number of simultaneously processed documents
func WithParallelism(parallelism uint32) EngineOption {
	return func(e *Engine) {
		e.parallelism = max(parallelism, 1)
	}
}

func WithLogger(log logger.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

type Engine struct {
	version     storage.ProcessorVersion
	sources     []source.Source
	parallelism uint32
	chunker     chunker.Chunker
	embedder    embedder.Embedder
	storage     storage.Storage
	log         logger.Logger
}

func NewEngine(s storage.Storage, e embedder.Embedder, strategy ChunkStrategy, chunkOptions chunker.Options, options ...EngineOption) (*Engine, error) {
	c, err := NewChunker(strategy, chunkOptions)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		version: storage.ProcessorVersion{
			Major:           ProcessorMajorVersion,
			Minor:           ProcessorMinorVersion,
			EmbeddingsModel: e.ModelName(),
			ChunkStrategy:   string(strategy),
			ChunkSize:       chunkOptions.ChunkSize,
			ChunkOverlap:    chunkOptions.ChunkOverlap,
		},
		parallelism: 4,
		chunker:     c,
		embedder:    e,
		storage:     s,
		log:         logger.Discard(),
	}

	for _, option := range options {
		option(engine)
	}

	return engine, nil
}

func (e *Engine) ProcessorVersion() storage.ProcessorVersion {
	return e.version
}

// Outcome of a [Engine.Process] run
type Report struct {
	// Chunked and embedded documents
	Processed int64 `json:"processed"`
	// Documents that did not change since last run or are processed by someone else
	Unchanged int64 `json:"unchanged"`
	// Documents with unsupported content
	Skipped int64 `json:"skipped"`
	// Documents that failed. Error is recorded on the stored document.
	Failed int64 `json:"failed"`
}

type reportCounter struct {
	processed atomic.Int64
	unchanged atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func (c *reportCounter) report() Report {
	return Report{
		Processed: c.processed.Load(),
		Unchanged: c.unchanged.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
	}
}

// Processes all documents of all sources. Document failures are reported to the source and recorded in
// the storage, only storage, source and context errors stop processing.
func (e *Engine) Process(ctx context.Context) (Report, error) {
	var counter reportCounter

	for _, src := range e.sources {
		if _, err := e.storage.GetOrCreateCollection(ctx, storage.CollectionUUID(src.UUID()), src.UUID(), ""); err != nil {
			return counter.report(), errors.Join(errors.New("failed to create source collection"), err)
		}

		sourceIterator, err := src.Open()
		if err != nil {
			return counter.report(), errors.Join(errors.New("failed to open source"), err)
		}

		err = e.processSource(ctx, src, sourceIterator, &counter)
		sourceIterator.Close()

		if err != nil {
			return counter.report(), errors.Join(errors.New("failed to process source"), err)
		}
	}

	return counter.report(), nil
}

func (e *Engine) processSource(ctx context.Context, src source.Source, sourceIterator source.Iterator, counter *reportCounter) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.parallelism))

	for {
		if gctx.Err() != nil {
			break
		}

		document, err := sourceIterator.Next(gctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if gctx.Err() != nil {
				break
			}

			g.Go(func() error {
				return errors.Join(errors.New("error while iterating over source documents"), err)
			})
			break
		}

		g.Go(func() error {
			err := e.processDocument(gctx, src, document, counter)
			if err != nil {
				err = errors.Join(errors.New("failed to process document"), err)
			}

			if closeErr := document.Close(); closeErr != nil {
				return errors.Join(errors.New("error during closing processed document"), closeErr, err)
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Returns stored document and whether it must be (re)processed. Outdated documents are deleted and
// created again, so processing always starts from an empty document.
func (e *Engine) prepareDocument(ctx context.Context, collection storage.CollectionUUID, documentPath string, eTag string) (*storage.Document, bool, error) {
	document, created, err := e.storage.GetOrCreateDocument(ctx, collection, documentPath, eTag, e.version)
	if err != nil {
		return nil, false, errors.Join(errors.New("error during document creation in the storage"), err)
	}
	if created {
		return document, true, nil
	}

	mustEmbed := document.ProcessingFinished == nil && document.CreatedAt.Before(time.Now().Add(-staleProcessingTimeout))
	mustEmbed = mustEmbed || (document.ProcessingFinished != nil && document.ProcessingError != nil)
	mustEmbed = mustEmbed || (document.ETag != eTag)
	mustEmbed = mustEmbed || (document.ProcessorVersion != e.version)
	if !mustEmbed {
		return document, false, nil
	}

	if err := e.storage.DeleteDocument(ctx, collection, document.UUID); err != nil {
		if errors.Is(err, storage.ErrDocumentDoesntExist) {
			// Someone else took the work
			return document, false, nil
		}

		return nil, false, errors.Join(errors.New("failed to delete old document before rechunking"), err)
	}

	document, created, err = e.storage.GetOrCreateDocument(ctx, collection, documentPath, eTag, e.version)
	if err != nil {
		return nil, false, errors.Join(errors.New("error during rechunked document creation"), err)
	}

	// Not created means someone else took the work
	return document, created, nil
}

func (e *Engine) processDocument(ctx context.Context, src source.Source, d source.DocumentHandler, counter *reportCounter) error {
	collection := storage.CollectionUUID(src.UUID())
	log := e.log.With("source", src.UUID(), "path", d.Path())

	document, mustProcess, err := e.prepareDocument(ctx, collection, d.Path(), d.ETag())
	if err != nil {
		return err
	}
	if !mustProcess {
		log.Debug("document is up to date")
		counter.unchanged.Add(1)
		return nil
	}

	processingUUID := uuid.NewString()
	notifyDone := func(reason source.DocumentProcessingDoneReason, processingErr error, chunkCount int) error {
		if err := src.NotifyDocumentProcessingDone(ctx, source.DocumentProcessingDoneEvent{
			UUID:         processingUUID,
			Path:         d.Path(),
			UserMetadata: d.UserMetadata(),
			Reason:       reason,
			Error:        processingErr,
			ChunkCount:   chunkCount,
		}); err != nil {
			return errors.Join(errors.New("failed to notify source about end of the document processing"), err, processingErr)
		}
		return nil
	}

	if err := src.NotifyDocumentProcessingStarted(ctx, source.DocumentProcessingStartedEvent{
		UUID:         processingUUID,
		Path:         d.Path(),
		UserMetadata: d.UserMetadata(),
	}); err != nil {
		return errors.Join(errors.New("failed to notify source about start of the document processing"), err)
	}

	text, err := io.ReadAll(d)
	if err != nil {
		// Unsupported documents are not stored at all
		if deleteErr := e.storage.DeleteDocument(ctx, collection, document.UUID); deleteErr != nil && !errors.Is(deleteErr, storage.ErrDocumentDoesntExist) {
			return errors.Join(errors.New("failed to delete unreadable document"), deleteErr, err)
		}

		if errors.Is(err, source.ErrUnsupportedDocument) {
			log.Warn("skipping unsupported document", "err", err)
			counter.skipped.Add(1)
			return notifyDone(source.DocumentProcessingSkipped, err, 0)
		}

		log.Error("failed to read document", "err", err)
		counter.failed.Add(1)
		return notifyDone(source.DocumentProcessingError, err, 0)
	}

	var runningEventErr error
	chunkCount, processingErr := e.storeChunks(ctx, document, string(text), func(progress uint8) error {
		runningEventErr = src.NotifyDocumentProcessingRunning(ctx, source.DocumentProcessingRunningEvent{
			UUID:         processingUUID,
			Path:         d.Path(),
			UserMetadata: d.UserMetadata(),
			Progress:     progress,
		})
		return runningEventErr
	})
	if runningEventErr != nil {
		e.storage.DeleteDocument(context.WithoutCancel(ctx), collection, document.UUID) // Try to delete unfinished document
		if err := notifyDone(source.DocumentProcessingAborted, runningEventErr, chunkCount); err != nil {
			return err
		}
		return errors.Join(errors.New("failed to notify source about document processing progress"), runningEventErr)
	}
	if ctx.Err() != nil {
		e.storage.DeleteDocument(context.WithoutCancel(ctx), collection, document.UUID) // Try to delete unfinished document
		if err := notifyDone(source.DocumentProcessingAborted, ctx.Err(), chunkCount); err != nil {
			return err
		}
		return ctx.Err()
	}

	if err := e.finishDocument(ctx, document, path.Base(d.Path()), string(text), chunkCount, processingErr); err != nil {
		return err
	}

	if processingErr != nil {
		log.Error("failed to process document", "err", processingErr, "chunks", chunkCount)
		counter.failed.Add(1)
		return notifyDone(source.DocumentProcessingError, processingErr, chunkCount)
	}

	log.Info("document processed", "chunks", chunkCount)
	counter.processed.Add(1)
	return notifyDone(source.DocumentProcessingOk, nil, chunkCount)
}

// Chunks text, embeds every chunk and stores it keyed by chunk index. Returns number of stored chunks.
func (e *Engine) storeChunks(ctx context.Context, document *storage.Document, text string, onProgress func(progress uint8) error) (int, error) {
	chunks, err := e.chunker.Chunk(text)
	if err != nil {
		return 0, errors.Join(errors.New("failed to chunk document"), err)
	}

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}

		embeddings, err := e.embedder.GenerateEmbeddings(ctx, chunk.Content)
		if err != nil {
			return i, errors.Join(errors.New("error while generating embeddings"), err)
		}

		if _, err := e.storage.PutChunk(ctx, document.Collection, document.UUID, chunk, embeddings); err != nil {
			return i, errors.Join(errors.New("failed to put chunk in the storage"), err)
		}

		if onProgress != nil {
			if err := onProgress(uint8((i + 1) * 100 / len(chunks))); err != nil {
				return i + 1, err
			}
		}
	}

	return len(chunks), nil
}

func (e *Engine) finishDocument(ctx context.Context, document *storage.Document, title string, text string, chunkCount int, processingErr error) error {
	var errorString string
	if processingErr != nil {
		errorString = processingErr.Error()
	}

	if err := e.storage.FinishDocumentProcessing(ctx, document.Collection, document.UUID, title, contentPreview(text), chunkCount, errorString); err != nil {
		return errors.Join(errors.New("failed to finalize document processing in storage"), err, processingErr)
	}

	return nil
}

func contentPreview(text string) string {
	if utf8.RuneCountInString(text) <= storage.ContentPreviewLength {
		return text
	}
	return string([]rune(text)[:storage.ContentPreviewLength])
}

// Chunks, embeds and stores text as a document of the collection. Collection is created if it does not
// exist. Unchanged text of already stored document is not processed again. If title is empty, base of the
// path is used.
func (e *Engine) IngestDocument(ctx context.Context, collection storage.CollectionUUID, documentPath string, title string, text string) (*storage.Document, error) {
	if _, err := e.storage.GetOrCreateCollection(ctx, collection, string(collection), ""); err != nil {
		return nil, errors.Join(errors.New("failed to create collection"), err)
	}

	hash := sha256.Sum256([]byte(text))
	eTag := hex.EncodeToString(hash[:])

	document, mustProcess, err := e.prepareDocument(ctx, collection, documentPath, eTag)
	if err != nil {
		return nil, err
	}
	if !mustProcess {
		return document, nil
	}

	if strings.TrimSpace(title) == "" {
		title = path.Base(documentPath)
	}

	log := e.log.With("collection", collection, "path", documentPath)
	chunkCount, processingErr := e.storeChunks(ctx, document, text, nil)
	if ctx.Err() != nil {
		e.storage.DeleteDocument(context.WithoutCancel(ctx), collection, document.UUID) // Try to delete unfinished document
		return nil, ctx.Err()
	}

	if err := e.finishDocument(ctx, document, title, text, chunkCount, processingErr); err != nil {
		return nil, err
	}
	if processingErr != nil {
		log.Error("failed to ingest document", "err", processingErr, "chunks", chunkCount)
		return nil, processingErr
	}

	log.Info("document ingested", "chunks", chunkCount)
	return e.storage.GetDocument(ctx, collection, document.UUID)
}

// Removes document together with all its chunks and vectors.
func (e *Engine) DeleteDocument(ctx context.Context, collection storage.CollectionUUID, document storage.DocumentUUID) error {
	if err := e.storage.DeleteDocument(ctx, collection, document); err != nil {
		return err
	}

	e.log.Info("document deleted", "collection", collection, "document", document)
	return nil
}

// Embeds query and returns nearest chunks. Empty collections list means all collections.
func (e *Engine) Search(ctx context.Context, query string, collections []storage.CollectionUUID, limit uint32) ([]storage.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	embeddings, err := e.embedder.GenerateEmbeddings(ctx, query)
	if err != nil {
		return nil, errors.Join(errors.New("failed to generate query embeddings"), err)
	}

	results, err := e.storage.SearchSimilarChunks(ctx, embeddings, collections, limit)
	if err != nil {
		return nil, errors.Join(errors.New("failed to search similar chunks"), err)
	}

	return results, nil
}

// Stored chunks of the document ordered by index.
func (e *Engine) ListChunks(ctx context.Context, collection storage.CollectionUUID, document storage.DocumentUUID) ([]storage.StoredChunk, error) {
	return e.storage.ListChunks(ctx, collection, document)
}
