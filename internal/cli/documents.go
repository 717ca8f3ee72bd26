package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"coursekb/internal/domain"
)

var (
	addName    string
	addDocType string
	addContent string

	fetchClasses []string

	updateName    string
	updateDocType string
	updateFile    string
)

var addCmd = &cobra.Command{
	Use:   "add [files...]",
	Short: "Add documents to a course",
	Long: `Add uploaded files, or a plain document given by --name and --content.
A document with the same name as an existing one replaces it.

Examples:
  coursekb add -c algo101 week1.md week2.pdf
  coursekb add -c algo101 --name "Syllabus" --type md --content "..."`,
	RunE: runAdd,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a web page into a course",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List the documents of a course",
	RunE:  runDocs,
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <doc-id>",
	Short: "List the chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunks,
}

var updateCmd = &cobra.Command{
	Use:   "update <doc-id>",
	Short: "Rename, retype or replace the content of a document",
	Long: `Update a document. Without --file the chunks are rebuilt from the
current content.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a document with its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(addCmd, fetchCmd, docsCmd, chunksCmd, updateCmd, deleteCmd)

	addCmd.Flags().StringVar(&addName, "name", "", "document name for a plain submission")
	addCmd.Flags().StringVar(&addDocType, "type", "", "document type for a plain submission")
	addCmd.Flags().StringVar(&addContent, "content", "", "document content for a plain submission")
	addCmd.Flags().Bool("llm", false, "force LLM-assisted chunking on or off")

	fetchCmd.Flags().StringSliceVar(&fetchClasses, "class", nil, "only keep elements with these CSS classes")
	fetchCmd.Flags().Bool("llm", false, "force LLM-assisted chunking on or off")

	updateCmd.Flags().StringVar(&updateName, "name", "", "new document name")
	updateCmd.Flags().StringVar(&updateDocType, "type", "", "new document type")
	updateCmd.Flags().StringVar(&updateFile, "file", "", "read new content from this file")
	updateCmd.Flags().Bool("llm", false, "force LLM-assisted chunking on or off")
}

func runAdd(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	if len(args) == 0 && addName == "" {
		return fmt.Errorf("give files to upload or --name for a plain document")
	}

	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	var stored []domain.Document
	if addName != "" {
		docs, err := kb.StoreDocuments(ctx, courseID, []domain.DocumentInput{
			{Name: addName, DocType: addDocType, Content: addContent},
		}, llmOverride(cmd))
		if err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}
		stored = append(stored, docs...)
	}

	if len(args) > 0 {
		uploads := make([]domain.UploadPayload, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			uploads = append(uploads, kb.ExtractUpload(ctx, filepath.Base(path), data))
		}
		docs, err := kb.StoreUploads(ctx, courseID, uploads, llmOverride(cmd))
		if err != nil {
			return fmt.Errorf("failed to store uploads: %w", err)
		}
		stored = append(stored, docs...)
	}

	return printDocuments(stored)
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := kb.StoreWeb(cmd.Context(), courseID, args[0], fetchClasses, llmOverride(cmd))
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", args[0], err)
	}
	return printDocuments([]domain.Document{doc})
}

func runDocs(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	docs, err := kb.ListDocuments(cmd.Context(), courseID)
	if err != nil {
		return err
	}
	return printDocuments(docs)
}

func runChunks(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	chunks, err := kb.ListChunks(cmd.Context(), courseID, args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(chunks)
	}
	for _, c := range chunks {
		fmt.Printf("[%d] %s (%s, %d chars)\n", c.OrderIndex, c.TitlePath, c.ChunkID, c.CharCount)
		fmt.Printf("    %s\n\n", preview(c.Content, 200))
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}

	var req domain.UpdateRequest
	if cmd.Flags().Changed("name") {
		req.Name = &updateName
	}
	if cmd.Flags().Changed("type") {
		req.DocType = &updateDocType
	}
	if updateFile != "" {
		data, err := os.ReadFile(updateFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", updateFile, err)
		}
		content := string(data)
		req.Content = &content
	}

	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	if updateFile != "" {
		payload := kb.ExtractUpload(cmd.Context(), filepath.Base(updateFile), []byte(*req.Content))
		req.Content = &payload.Content
	}

	doc, err := kb.UpdateDocument(cmd.Context(), courseID, args[0], req, llmOverride(cmd))
	if err != nil {
		return err
	}
	return printDocuments([]domain.Document{doc})
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := kb.DeleteDocument(cmd.Context(), courseID, args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(doc)
	}
	fmt.Printf("Deleted %s (%s)\n", doc.Name, doc.ID)
	return nil
}

func printDocuments(docs []domain.Document) error {
	if asJSON {
		return printJSON(docs)
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("%s  %-8s %s  %s\n", d.ID, d.DocType, d.CreatedAt.Local().Format("2006-01-02 15:04"), d.Name)
	}
	return nil
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
