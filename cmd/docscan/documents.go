package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/storage"
)

type ingestResult struct {
	File      string `json:"file"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		user   string
		folder string
		title  string
		noOCR  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Store files and extract their text",
		Long: `Ingest stores each file for the given user, renders a thumbnail and runs
text extraction. A file that is rejected does not stop the remaining ones.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			var folderID *uuid.UUID
			if folder != "" {
				id, err := uuid.Parse(folder)
				if err != nil {
					return fmt.Errorf("invalid folder id: %w", err)
				}
				folderID = &id
			}

			svc, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(svc)

			var bar interface {
				Add(int) error
				Describe(string)
			}
			if !outputJSON {
				bar = ui.ProgressBar(len(args), "Ingesting")
			}

			results := make([]ingestResult, 0, len(args))
			failed := 0
			for _, path := range args {
				if bar != nil {
					bar.Describe(truncate(filepath.Base(path), 24))
				}
				res := ingestFile(cmd, svc.Pipeline, ingest.UploadRequest{
					UserID:   userID,
					Filename: filepath.Base(path),
					Title:    title,
					FolderID: folderID,
					SkipOCR:  noOCR,
				}, path)
				if res.Error != "" || res.Status == string(storage.OCRStatusFailed) {
					failed++
				}
				results = append(results, res)
				if bar != nil {
					_ = bar.Add(1)
				}
			}

			if outputJSON {
				return printJSON(results)
			}
			for _, res := range results {
				switch {
				case res.Error != "":
					ui.Error("%s: %s", res.File, res.Error)
				case res.Status == string(storage.OCRStatusFailed):
					ui.Warning("%s: %s (%s)", res.File, res.ID, ui.StatusColor(res.Status))
				default:
					ui.Success("%s: %s (%s)", res.File, res.ID, ui.StatusColor(res.Status))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owner user id (default: $DOCSCAN_USER)")
	cmd.Flags().StringVar(&folder, "folder", "", "folder id to file documents into")
	cmd.Flags().StringVar(&title, "title", "", "title for every document (default: file name)")
	cmd.Flags().BoolVar(&noOCR, "no-ocr", false, "store without extracting text")
	return cmd
}

func ingestFile(cmd *cobra.Command, pipeline *ingest.Pipeline, req ingest.UploadRequest, path string) ingestResult {
	res := ingestResult{File: path}
	f, err := os.Open(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	req.Body = f
	doc, err := pipeline.Accept(cmd.Context(), req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ID = doc.ID.String()
	res.Status = string(doc.OCRStatus)
	res.PageCount = doc.PageCount
	return res
}

// newRerunCmd creates the rerun subcommand.
func newRerunCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "rerun <document-id>",
		Short: "Run text extraction again for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			svc, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(svc)

			s := ui.Spinner("Extracting text")
			if !outputJSON {
				s.Start()
			}
			doc, err := svc.Pipeline.Rerun(ctx, userID, id)
			s.Stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(doc)
			}
			if doc.OCRStatus == storage.OCRStatusFailed && doc.OCRError != nil {
				ui.Warning("%s: %s", ui.StatusColor(string(doc.OCRStatus)), *doc.OCRError)
				return nil
			}
			ui.Success("%s: %s", doc.ID, ui.StatusColor(string(doc.OCRStatus)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owner user id (default: $DOCSCAN_USER)")
	return cmd
}

// newListCmd creates the list subcommand.
func newListCmd() *cobra.Command {
	var (
		user     string
		status   string
		query    string
		archived bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			if status != "" && !storage.OCRStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			svc, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(svc)

			docs, total, err := svc.Documents.List(ctx, storage.DocumentFilter{
				UserID:   userID,
				Status:   storage.OCRStatus(status),
				Search:   query,
				Archived: &archived,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"documents": docs, "total": total})
			}
			if len(docs) == 0 {
				ui.Info("No documents")
				return nil
			}
			fmt.Printf("%-36s  %-28s  %-10s  %5s  %s\n", "ID", "TITLE", "STATUS", "PAGES", "CREATED")
			for _, doc := range docs {
				fmt.Printf("%-36s  %-28s  %-10s  %5d  %s\n",
					doc.ID,
					truncate(doc.Title, 28),
					ui.StatusColor(string(doc.OCRStatus)),
					doc.PageCount,
					doc.CreatedAt.Local().Format(time.DateTime),
				)
			}
			if total > len(docs) {
				ui.Info("Showing %d of %d", len(docs), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owner user id (default: $DOCSCAN_USER)")
	cmd.Flags().StringVar(&status, "status", "", "only documents with this extraction status")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search titles and text")
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived documents instead")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum documents to show")
	return cmd
}

// newRecoverCmd creates the recover subcommand.
func newRecoverCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Fail documents stuck in processing",
		Long: `Recover marks documents that have been processing for longer than
--older-than as failed so they can be rerun. Use it after a crash.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(svc)

			n, err := svc.Pipeline.RecoverStale(ctx, olderThan)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]int64{"recovered": n})
			}
			if n == 0 {
				ui.Success("No stuck documents")
				return nil
			}
			ui.Warning("Marked %d documents as failed", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "minimum time in processing")
	return cmd
}
