package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/urfave/negroni"

	"github.com/minsukang/datapilot/analysis"
	"github.com/minsukang/datapilot/chunkstore"
	"github.com/minsukang/datapilot/config"
	"github.com/minsukang/datapilot/contextbuild"
	"github.com/minsukang/datapilot/handlers"
	"github.com/minsukang/datapilot/logging"
	"github.com/minsukang/datapilot/metastore"
	"github.com/minsukang/datapilot/retrieval"
	"github.com/minsukang/datapilot/scheduler"
	"github.com/minsukang/datapilot/server"
	"github.com/minsukang/datapilot/session"
	"github.com/minsukang/datapilot/stream"
)

func main() {
	root := &cobra.Command{
		Use:   "datapilot",
		Short: "Large-file ingestion and retrieval service for the data dashboard",
	}
	root.AddCommand(serveCmd(), parseCmd(), askCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	handler, err := logging.NewDailyFileHandler(cfg.LogDir, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		log.Println("Warning: falling back to stdout logging:", err)
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(handler)
}

func newChunkStore(cfg config.Config, logger *slog.Logger) (chunkstore.Store, error) {
	switch cfg.StoreBackend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET must be set for the s3 chunk store")
		}
		return chunkstore.NewS3Store(s3.NewFromConfig(awsCfg), cfg.S3Bucket, logger), nil
	default:
		return chunkstore.NewLocalStore(cfg.UploadRoot, cfg.CompressChunks, logger), nil
	}
}

func newParser(cfg config.Config, logger *slog.Logger) *stream.Parser {
	return stream.NewParser(stream.Options{
		BatchSize:     cfg.Ingest.BatchSize,
		MemoryCeiling: uint64(cfg.Ingest.MemoryCeilingMB) << 20,
		Summary: stream.SummaryConfig{
			MaxUniqueValues:   cfg.Ingest.MaxUniqueValues,
			KeywordSampleRows: cfg.Ingest.KeywordSampleRows,
			MaxKeywords:       cfg.Ingest.MaxKeywords,
		},
	}, logger)
}

func newAssembler(cfg config.Config, logger *slog.Logger) *contextbuild.Assembler {
	selector := retrieval.NewSelector(cfg.Ingest.MaxBatches, logger)
	return contextbuild.NewAssembler(selector, cfg.Ingest.RowBudget, cfg.Ingest.ByteBudget, logger)
}

func newAnalyzerRegistry(cfg config.Config, logger *slog.Logger) *analysis.Registry {
	registry := analysis.NewRegistry()
	registry.Register(analysis.NewRuleBasedAnalyzer())
	registry.Register(analysis.NewOpenAIAnalyzer(cfg.OpenAIAPIURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, logger))
	return registry
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)

			if err := os.MkdirAll(cfg.FinalDir, 0755); err != nil {
				return fmt.Errorf("failed to create final upload dir: %w", err)
			}

			chunks, err := newChunkStore(cfg, logger)
			if err != nil {
				return err
			}
			manager := session.NewManager(session.NewStore(), chunks, cfg.FinalDir, cfg.SessionIdleTimeout, logger)

			sweeper := scheduler.New(manager, cfg.SweepInterval, logger)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go sweeper.Start(ctx)

			var meta *metastore.Store
			if cfg.DatabaseURL != "" {
				pool, err := metastore.Connect(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				meta = metastore.NewStore(pool, logger)
			}

			uploadHandler := handlers.NewUploadHandler(manager, logger)
			datasetHandler := handlers.NewDatasetHandler(
				handlers.NewDatasetRegistry(),
				newParser(cfg, logger),
				newAssembler(cfg, logger),
				newAnalyzerRegistry(cfg, logger),
				cfg.AnalysisBackend,
				meta,
				logger)

			r := server.SetupRoutes(uploadHandler, datasetHandler)
			n := setupNegroni(r)

			logger.Info("datapilot server starting",
				slog.String("environment", cfg.Environment),
				slog.String("chunk_store", cfg.StoreBackend),
				slog.String("analysis_backend", cfg.AnalysisBackend))

			if cfg.Environment == "production" {
				server.ServeProduction(n, cfg.Domains, cfg.CertCacheDir)
			} else {
				srv := &http.Server{
					Addr:         ":" + cfg.HTTPPort,
					Handler:      n,
					IdleTimeout:  time.Minute,
					ReadTimeout:  30 * time.Second,
					WriteTimeout: 5 * time.Minute,
				}
				server.ServeDevelopment(srv)
			}
			return nil
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Stream-parse a delimited file and print its batch summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			parser := newParser(cfg, logger)

			result, err := parser.ParseWith(cmd.Context(), args[0], func(b *stream.Batch) {
				fmt.Printf("batch %d: rows %d, lines [%d,%d), %d keywords\n",
					b.Index, len(b.Rows), b.StartLine, b.EndLine, len(b.Summary.Keywords))
			}, func(lines int64) {
				fmt.Fprintf(os.Stderr, "\r%d lines...", lines)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr)
			fmt.Printf("parsed %d rows into %d batches (%d ragged) in %s\n",
				result.TotalRows, result.TotalBatches, result.RaggedRows, result.Duration)
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Parse a file, retrieve the relevant batches, and answer offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			parser := newParser(cfg, logger)

			var batches []*stream.Batch
			if _, err := parser.ParseWith(cmd.Context(), args[0], func(b *stream.Batch) {
				batches = append(batches, b)
			}, nil); err != nil {
				return err
			}

			pc := newAssembler(cfg, logger).BuildContext(args[1], batches)
			answer, err := analysis.NewRuleBasedAnalyzer().Analyze(cmd.Context(), pc, args[1])
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
}

func setupNegroni(r *mux.Router) *negroni.Negroni {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(r)
	return n
}
