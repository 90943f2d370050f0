package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ai-ragchat-be/internal/bootstrap"
	"ai-ragchat-be/internal/config"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/internal/repository/memory"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/database"
	"ai-ragchat-be/pkg/rag/ingest"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ingest loads local text files into the configured vector index, then
// optionally runs a similarity search against it.
//
//	go run ./cmd/ingest -owner <uuid> -dir ./docs -ext .md,.txt
//	go run ./cmd/ingest -owner <uuid> -id handbook handbook.md
//	go run ./cmd/ingest -query "how do refunds work"
func main() {
	owner := flag.String("owner", "", "owning user id (uuid), required when ingesting")
	docID := flag.String("id", "", "document id, only valid with a single file")
	dir := flag.String("dir", "", "ingest every matching file under this directory")
	exts := flag.String("ext", ".txt,.md", "comma separated extensions used with -dir")
	query := flag.String("query", "", "search the index after ingesting")
	limit := flag.Int("limit", 5, "number of search results")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fail("invalid configuration: %v", err)
	}

	files, err := collect(*dir, *exts, flag.Args())
	if err != nil {
		fail("%v", err)
	}
	if len(files) == 0 && *query == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *docID != "" && len(files) != 1 {
		fail("-id needs exactly one file, got %d", len(files))
	}

	var ownerID uuid.UUID
	if len(files) > 0 {
		ownerID, err = uuid.Parse(*owner)
		if err != nil {
			fail("-owner must be a uuid: %v", err)
		}
	}

	ctx := context.Background()

	var db *gorm.DB
	var uowFactory unitofwork.RepositoryFactory
	if cfg.Database.Connection != "" {
		db, err = database.NewGormDBFromDSN(cfg.Database.Connection, false)
		if err != nil {
			fail("database: %v", err)
		}
		uowFactory = unitofwork.NewRepositoryFactory(db)
	} else {
		color.Yellow("DB_CONNECTION_STRING not set: document records will not outlive this run")
		uowFactory = memory.NewRepositoryFactory(memory.NewStore())
	}
	if cfg.Vector.Backend == "memory" {
		color.Yellow("VECTOR_DB_TYPE=memory: vectors will not outlive this run")
	}

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, db, nil, uowFactory, logger.NewZapLogger(cfg.App.LogFilePath, false))
	if err != nil {
		fail("pipeline: %v", err)
	}
	defer pipeline.Index.Close()

	color.Cyan("Index %s (%s), embedder %s", pipeline.Index.Name(), pipeline.Index.Metric(), pipeline.Embedder.Name())

	failed := 0
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			color.Red("  %s: %v", path, err)
			failed++
			continue
		}

		res, err := pipeline.Ingestor.Ingest(ctx, ingestRequest(*docID, ownerID, path, string(content)))
		if err != nil {
			color.Red("  %s: %v", path, err)
			failed++
			continue
		}
		color.Green("  %s -> %s (%d chunks)", path, res.DocumentID, res.Chunks)
	}

	if *query != "" {
		results, err := pipeline.Retriever.Search(ctx, *query, *limit)
		if err != nil {
			fail("search: %v", err)
		}
		color.Cyan("\nTop %d for %q", len(results), *query)
		for i, r := range results {
			color.Yellow("%d. [%.3f] %s", i+1, r.SimilarityScore, r.DocumentID)
			fmt.Println("   " + preview(r.Content, 160))
		}
	}

	if failed > 0 {
		color.Red("%d of %d files failed", failed, len(files))
		os.Exit(1)
	}
}

func ingestRequest(id string, owner uuid.UUID, path, content string) ingest.Request {
	return ingest.Request{
		DocumentID: id,
		OwnerID:    owner.String(),
		Content:    content,
		Metadata:   map[string]interface{}{"source": filepath.Base(path)},
	}
}

func collect(dir, exts string, args []string) ([]string, error) {
	files := append([]string(nil), args...)
	if dir == "" {
		return files, nil
	}

	allowed := map[string]bool{}
	for _, e := range strings.Split(exts, ",") {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && allowed[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func fail(format string, args ...interface{}) {
	color.Red(format, args...)
	os.Exit(1)
}
