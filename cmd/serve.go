package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opengs/ragchunk"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/internal/logger"
	"github.com/opengs/ragchunk/storage"
	"github.com/spf13/cobra"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "Start REST API server",
	Long:  "Start REST API server. Document endpoints are enabled only when database is configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.FromFlags(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		chunkOptions, err := cfg.ChunkOptions()
		if err != nil {
			return err
		}
		if _, err := ragchunk.NewChunker(cfg.Strategy(), chunkOptions); err != nil {
			return err
		}

		var engine *ragchunk.Engine
		if cfg.Database.URL != "" {
			e, eStorage, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eStorage.Close()
			engine = e
		} else {
			log.Warn("database is not configured, document endpoints are disabled")
		}

		gin.SetMode(gin.ReleaseMode)
		router := newRouter(cfg.Strategy(), chunkOptions, engine, log)

		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetUint("port")
		server := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-cmd.Context().Done()
			server.Close()
		}()

		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(errors.New("failed to run HTTP server engine"), err)
		}

		return nil
	},
}

func init() {
	addChunkFlags(serveCMD)
	serveCMD.Flags().String("host", "0.0.0.0", "Host server will be listening on")
	serveCMD.Flags().Uint("port", 8884, "Port server will be listening on")
}

type chunkRequest struct {
	Text         string   `json:"text"`
	Strategy     string   `json:"strategy"`
	Preset       string   `json:"preset"`
	ChunkSize    *int     `json:"chunkSize"`
	ChunkOverlap *int     `json:"chunkOverlap"`
	Separators   []string `json:"separators"`
}

type ingestRequest struct {
	Path  string `json:"path" binding:"required"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type searchRequest struct {
	Query       string   `json:"query" binding:"required"`
	Collections []string `json:"collections"`
	Limit       uint32   `json:"limit"`
}

type api struct {
	strategy ragchunk.ChunkStrategy
	options  chunker.Options
	engine   *ragchunk.Engine
	log      logger.Logger
}

// Routes of the REST API. Nil engine leaves only stateless chunking endpoints.
func newRouter(strategy ragchunk.ChunkStrategy, options chunker.Options, engine *ragchunk.Engine, log logger.Logger) *gin.Engine {
	a := &api{strategy: strategy, options: options, engine: engine, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), a.logRequests)

	router.GET("/presets", a.presets)
	router.POST("/chunk", a.chunk)

	if engine != nil {
		router.POST("/collections/:collection/documents", a.ingestDocument)
		router.DELETE("/collections/:collection/documents/:document", a.deleteDocument)
		router.GET("/collections/:collection/documents/:document/chunks", a.listChunks)
		router.POST("/search", a.search)
	}

	return router
}

func (a *api) logRequests(ctx *gin.Context) {
	started := time.Now()
	ctx.Next()
	a.log.Debug("request", "method", ctx.Request.Method, "path", ctx.FullPath(), "status", ctx.Writer.Status(), "took", time.Since(started))
}

func (a *api) fail(ctx *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", ctx.FullPath(), "err", err)
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Aborts with 400 when the collection path parameter can not be a stored collection identifier.
func (a *api) collectionParam(ctx *gin.Context) (storage.CollectionUUID, bool) {
	collection := storage.CollectionUUID(ctx.Param("collection"))
	if err := storage.ValidateCollectionUUID(collection); err != nil {
		a.fail(ctx, http.StatusBadRequest, err)
		return "", false
	}
	return collection, true
}

func (a *api) presets(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"presets": chunker.Presets()})
}

func (a *api) chunk(ctx *gin.Context) {
	var request chunkRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		a.fail(ctx, http.StatusBadRequest, err)
		return
	}

	options := a.options
	if request.Preset != "" {
		preset, err := chunker.PresetOptions(request.Preset)
		if err != nil {
			a.fail(ctx, http.StatusBadRequest, err)
			return
		}
		options = preset
	}
	if request.ChunkSize != nil {
		options.ChunkSize = *request.ChunkSize
	}
	if request.ChunkOverlap != nil {
		options.ChunkOverlap = *request.ChunkOverlap
	}
	if request.Separators != nil {
		options.Separators = request.Separators
	}

	strategy := a.strategy
	if request.Strategy != "" {
		strategy = ragchunk.ChunkStrategy(request.Strategy)
	}

	c, err := ragchunk.NewChunker(strategy, options)
	if err != nil {
		a.fail(ctx, http.StatusBadRequest, err)
		return
	}

	chunks, err := c.Chunk(request.Text)
	if err != nil {
		a.fail(ctx, http.StatusInternalServerError, err)
		return
	}
	if chunks == nil {
		chunks = []chunker.Chunk{}
	}

	ctx.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func (a *api) ingestDocument(ctx *gin.Context) {
	var request ingestRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		a.fail(ctx, http.StatusBadRequest, err)
		return
	}

	collection, ok := a.collectionParam(ctx)
	if !ok {
		return
	}
	document, err := a.engine.IngestDocument(ctx.Request.Context(), collection, request.Path, request.Title, request.Text)
	if err != nil {
		a.fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ctx.JSON(http.StatusCreated, document)
}

func (a *api) deleteDocument(ctx *gin.Context) {
	collection, ok := a.collectionParam(ctx)
	if !ok {
		return
	}
	document := storage.DocumentUUID(ctx.Param("document"))

	if err := a.engine.DeleteDocument(ctx.Request.Context(), collection, document); err != nil {
		if errors.Is(err, storage.ErrDocumentDoesntExist) {
			a.fail(ctx, http.StatusNotFound, err)
			return
		}
		a.fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (a *api) listChunks(ctx *gin.Context) {
	collection, ok := a.collectionParam(ctx)
	if !ok {
		return
	}
	document := storage.DocumentUUID(ctx.Param("document"))

	chunks, err := a.engine.ListChunks(ctx.Request.Context(), collection, document)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentDoesntExist) {
			a.fail(ctx, http.StatusNotFound, err)
			return
		}
		a.fail(ctx, http.StatusInternalServerError, err)
		return
	}

	for i := range chunks {
		chunks[i].Vector = nil
	}
	if chunks == nil {
		chunks = []storage.StoredChunk{}
	}

	ctx.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func (a *api) search(ctx *gin.Context) {
	var request searchRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		a.fail(ctx, http.StatusBadRequest, err)
		return
	}
	if request.Limit == 0 {
		request.Limit = 10
	}

	collections := make([]storage.CollectionUUID, 0, len(request.Collections))
	for _, collection := range request.Collections {
		if err := storage.ValidateCollectionUUID(storage.CollectionUUID(collection)); err != nil {
			a.fail(ctx, http.StatusBadRequest, err)
			return
		}
		collections = append(collections, storage.CollectionUUID(collection))
	}

	results, err := a.engine.Search(ctx.Request.Context(), request.Query, collections, request.Limit)
	if err != nil {
		if errors.Is(err, ragchunk.ErrEmptyQuery) {
			a.fail(ctx, http.StatusBadRequest, err)
			return
		}
		a.fail(ctx, http.StatusInternalServerError, err)
		return
	}

	for i := range results {
		results[i].Chunk.Vector = nil
	}
	if results == nil {
		results = []storage.SearchResult{}
	}

	ctx.JSON(http.StatusOK, gin.H{"results": results})
}
