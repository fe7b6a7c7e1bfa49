package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/lynki/internal/extract"
	"github.com/pavelanni/lynki/internal/handler"
	appI18n "github.com/pavelanni/lynki/internal/i18n"
	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/pipeline"
	"github.com/pavelanni/lynki/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lynki",
		Short: "Turn course documents into multiple-choice quizzes",
	}

	serve := serveCmd()
	root.AddCommand(serve, ingestCmd(), processCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lynki --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(f *pflag.FlagSet) {
	f.String("db", "lynki.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func pipelineFlags(f *pflag.FlagSet) {
	f.String("blob-backend", "local", "Blob storage backend (local, gcs)")
	f.String("blob-root", "data/blobs", "Root directory for the local blob backend")
	f.String("bucket", "course-materials", "Bucket holding uploaded documents")
	f.String("llm-provider", "openai", "LLM provider (openai, anthropic)")
	f.String("llm-url", "http://localhost:11434/v1", "LLM API base URL (empty for the provider default)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("structure-model", "llama3.2", "Model used for topic and concept extraction")
	f.String("question-model", "llama3.2", "Model used for question generation")
	f.Int("chunk-size", 8000, "Maximum characters per analysis chunk")
	f.Duration("llm-timeout", 60*time.Second, "Timeout of a single LLM call")
	f.Duration("processing-timeout", 600*time.Second, "Deadline for processing one document")
	f.Int("quiz-concurrency", 3, "Concepts generated concurrently per quiz")
	f.Int("min-questions", 2, "Minimum questions per concept")
	f.Int("max-questions", 5, "Maximum questions per concept")
	f.StringP("lang", "l", "en", "Language of status messages (en, ru)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP trigger server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Int("workers", 2, "Background workers")
	f.Int("queue-size", 64, "Maximum queued background tasks")
	f.Duration("shutdown-timeout", 30*time.Second, "Time allowed for running tasks on shutdown")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Upload a document and optionally process it",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	f := cmd.Flags()
	f.String("user-id", "", "Owner of the document")
	f.String("title", "", "Document title (defaults to the file name)")
	f.String("file-type", "", "MIME type (detected from the extension when empty)")
	f.Bool("process", false, "Process the document right after upload")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a stored document synchronously",
		RunE:  runProcess,
	}
	f := cmd.Flags()
	f.String("document-id", "", "Document to process (required)")
	commonFlags(f)
	pipelineFlags(f)
	_ = cmd.MarkFlagRequired("document-id")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a quiz as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("quiz-id", "", "Quiz to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	_ = cmd.MarkFlagRequired("quiz-id")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LYNKI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lynki")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lynki")
	v.AddConfigPath("/etc/lynki")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup installs logging and i18n and returns the command's configuration.
func setup(cmd *cobra.Command) (*viper.Viper, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	lang := v.GetString("lang")
	if lang == "" {
		lang = "en"
	}
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return v, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}

	queue := pipeline.NewQueue(pipeline.QueueConfig{
		Workers: v.GetInt("workers"),
		Size:    v.GetInt("queue-size"),
	}, slog.Default())

	h := handler.New(queue, a.driver, a.quizzes, a.store, a.quizOptions)
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(v.GetString("lang")))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"llm_provider", v.GetString("llm-provider"),
			"structure_model", v.GetString("structure-model"),
			"question_model", v.GetString("question-model"),
			"workers", v.GetInt("workers"),
			"blob_backend", v.GetString("blob-backend"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		slog.Warn("queue shutdown", "error", err)
	}
	if err := a.driver.Wait(shutdownCtx); err != nil {
		slog.Warn("waiting for abandoned runs", "error", err)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	fileType := v.GetString("file-type")
	if fileType == "" {
		fileType = detectFileType(path)
	}
	if _, ok := extract.Detect(fileType); !ok {
		return fmt.Errorf("unsupported file type %q for %s", fileType, path)
	}

	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := v.GetString("user-id")
	owner := userID
	if owner == "" {
		owner = "anonymous"
	}
	objectPath := fmt.Sprintf("%s/%s-%s", owner, uuid.NewString(), filepath.Base(path))
	if err := a.blobs.Upload(ctx, v.GetString("bucket"), objectPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	title := v.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	doc, err := a.store.CreateDocument(ctx, model.Document{
		UserID:   userID,
		Title:    title,
		FilePath: objectPath,
		FileType: fileType,
	})
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	slog.Info("document ingested", "document_id", doc.ID, "path", objectPath, "file_type", fileType)
	fmt.Fprintln(cmd.OutOrStdout(), doc.ID)

	if !v.GetBool("process") {
		return nil
	}
	return processAndReport(ctx, cmd.OutOrStdout(), a, doc.ID)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	v, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.Close()
	return processAndReport(ctx, cmd.OutOrStdout(), a, v.GetString("document-id"))
}

func processAndReport(ctx context.Context, w io.Writer, a *app, documentID string) error {
	a.driver.ProcessDocument(ctx, documentID)
	if err := a.driver.Wait(ctx); err != nil {
		return err
	}

	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc.Status != model.DocumentCompleted {
		return fmt.Errorf("document %s %s: %s", documentID, doc.Status, doc.ErrorMessage)
	}
	count, err := a.store.CountDocumentConcepts(ctx, documentID)
	if err != nil {
		return fmt.Errorf("count concepts: %w", err)
	}
	fmt.Fprintln(w, appI18n.Tp(ctx, "ConceptsExtracted", count))

	quizzes, err := a.store.ListDocumentQuizzes(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list quizzes: %w", err)
	}
	for _, q := range quizzes {
		fmt.Fprintf(w, "%s\t%s\n", q.ID, q.GenerationStatus)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportQuiz(context.Background(), v.GetString("quiz-id"))
	if err != nil {
		return fmt.Errorf("export quiz: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
