// medassist-index builds the knowledge base from a directory of documents.
//
// It chunks the source files, embeds each chunk, upserts the vectors into
// Milvus, and writes the BM25 lexical index file read by medassist-server.
//
// Usage:
//
//	medassist-index --docs ./medical_docs
//	medassist-index --docs ./medical_docs --drop  # Drop and recreate collection
//	medassist-index --docs ./medical_docs --batch-size 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medassist-ai/medassist/pkg/docproc"
	"github.com/medassist-ai/medassist/pkg/embedding"
	"github.com/medassist-ai/medassist/pkg/medcfg"
	"github.com/medassist-ai/medassist/pkg/retrieval"
)

var (
	docsDir   = flag.String("docs", "", "Directory of source documents (required)")
	indexPath = flag.String("index", "", "BM25 index output path (defaults to database.bm25_index from config)")
	cfgPath   = flag.String("config", "", "Path to medassist.yaml (auto-detected if not specified)")
	dropFirst = flag.Bool("drop", false, "Drop existing collection before indexing")
	batchSize = flag.Int("batch-size", 0, "Chunks to embed per batch (defaults to embedding.batch_size from config)")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *docsDir == "" {
		log.Fatal().Msg("Documents directory is required (set -docs)")
	}

	// Load configuration
	cfg, err := medcfg.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	bm25Path := *indexPath
	if bm25Path == "" {
		bm25Path = cfg.Database.BM25Index
	}
	batch := *batchSize
	if batch <= 0 {
		batch = cfg.Embedding.BatchSize
	}
	if batch <= 0 {
		batch = 50
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Documents: %s\n", *docsDir)
	fmt.Printf("  Milvus: %s\n", cfg.Milvus.Address)
	fmt.Printf("  Collection: %s\n", cfg.Milvus.Collection)
	fmt.Printf("  Embedding: %s (%d dim)\n", cfg.Embedding.Model, cfg.Embedding.Dimension)
	fmt.Printf("  BM25 index: %s\n", bm25Path)
	fmt.Printf("  Batch size: %d\n", batch)
	fmt.Println()

	ctx := context.Background()

	// Chunk the source documents
	processor := docproc.New(cfg.Chunking.SizeWords, cfg.Chunking.OverlapWords, cfg.Chunking.MinWords)
	documents, err := processor.ProcessDir(*docsDir, nil)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *docsDir).Msg("Failed to process documents")
	}
	if len(documents) == 0 {
		log.Fatal().Str("dir", *docsDir).Msg("No indexable chunks produced")
	}
	fmt.Printf("Chunked %d documents\n", len(documents))

	// Embedding service must be up for a full indexing pass
	embClient := embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if !embClient.IsAvailable(ctx) {
		log.Fatal().Str("base_url", cfg.Embedding.BaseURL).Msg("Embedding service not available")
	}

	// Connect to Milvus
	vectors, err := retrieval.NewMilvusVectorStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	defer vectors.Close()
	fmt.Printf("Connected to Milvus at %s\n", cfg.Milvus.Address)

	if *dropFirst {
		if err := vectors.DropCollection(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to drop collection")
		}
		fmt.Printf("Dropped collection %s\n", cfg.Milvus.Collection)
	}

	if err := vectors.EnsureCollection(ctx, embClient.Dimension()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create collection")
	}

	// Embed and upsert in batches
	indexed := 0
	for start := 0; start < len(documents); start += batch {
		end := start + batch
		if end > len(documents) {
			end = len(documents)
		}
		docs := documents[start:end]

		texts := make([]string, len(docs))
		for i, doc := range docs {
			texts[i] = doc.Text
		}

		embeddings, err := embClient.EmbedBatch(ctx, texts)
		if err != nil {
			log.Fatal().Err(err).Int("batch_start", start).Msg("Embedding batch failed")
		}

		batchVectors := make([][]float64, len(embeddings))
		for i, emb := range embeddings {
			vec := make([]float64, len(emb))
			for j, v := range emb {
				vec[j] = float64(v)
			}
			batchVectors[i] = vec
		}

		if err := vectors.Add(ctx, docs, batchVectors); err != nil {
			log.Fatal().Err(err).Int("batch_start", start).Msg("Milvus insert failed")
		}

		indexed += len(docs)
		fmt.Printf("  Indexed %d/%d chunks\n", indexed, len(documents))
	}

	// Build and persist the lexical index
	bm25 := retrieval.NewBM25Index()
	bm25.Index(documents)
	if err := bm25.SaveIndex(bm25Path); err != nil {
		log.Fatal().Err(err).Str("path", bm25Path).Msg("Failed to save BM25 index")
	}

	stats := bm25.Stats()
	fmt.Println()
	fmt.Printf("Done: %d chunks in Milvus, %d documents / %d terms in BM25 index\n",
		indexed, stats.Documents, stats.Terms)
}
