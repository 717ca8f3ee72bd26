package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
)

// CurrentLayoutVersion is the current on-disk layout version.
// 0: nothing stamped, 1: JSON files in the course folder, 2: bbolt container.
const CurrentLayoutVersion = 2

var (
	keyLayoutVersion = []byte("layout_version")
	keyCourseID      = []byte("course_id")
)

const (
	legacyDocumentsFile = "documents.json"
	legacyChunksDir     = "chunks"
	legacyChunksFile    = "chunks.json"
)

// LayoutInfo is what the meta bucket records about the container.
type LayoutInfo struct {
	Version  int    `json:"version"`
	CourseID string `json:"course_id"`
}

// LayoutReport describes what an upgrade did.
type LayoutReport struct {
	Folder            string `json:"folder"`
	RenamedFrom       string `json:"renamed_from,omitempty"`
	OldVersion        int    `json:"old_version"`
	NewVersion        int    `json:"new_version"`
	ImportedDocuments int    `json:"imported_documents"`
	ImportedChunks    int    `json:"imported_chunks"`
}

// Changed reports whether the upgrade moved or imported anything.
func (r LayoutReport) Changed() bool {
	return r.RenamedFrom != "" || r.ImportedDocuments > 0 || r.ImportedChunks > 0
}

// UpgradeLayout brings the course folder under root to the current layout.
// It is idempotent and must not run while the course is open elsewhere.
func UpgradeLayout(root, folder, courseID string, log *logger.Logger) (LayoutReport, error) {
	db, report, err := upgradeLayout(root, folder, courseID, log)
	if err != nil {
		return report, err
	}
	return report, db.Close()
}

func upgradeLayout(root, folder, courseID string, log *logger.Logger) (*bbolt.DB, LayoutReport, error) {
	log = logger.OrNop(log).With("course_id", courseID, "folder", folder)
	report := LayoutReport{Folder: folder, NewVersion: CurrentLayoutVersion}

	dir := filepath.Join(root, folder)
	if renamed := renameLegacyFolder(root, folder, courseID, log); renamed != "" {
		report.RenamedFrom = renamed
	}

	db, err := openIndexDB(dir)
	if err != nil {
		return nil, report, err
	}

	info, err := readLayoutInfo(db)
	if err != nil {
		db.Close()
		return nil, report, fmt.Errorf("failed to read layout info: %w", err)
	}
	report.OldVersion = info.Version

	if info.Version > CurrentLayoutVersion {
		db.Close()
		return nil, report, fmt.Errorf("course folder %s was written by a newer layout (v%d > v%d)", dir, info.Version, CurrentLayoutVersion)
	}

	for v := info.Version; v < CurrentLayoutVersion; v++ {
		if err := runMigration(db, dir, v, v+1, &report, log); err != nil {
			db.Close()
			return nil, report, fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	if err := writeLayoutInfo(db, LayoutInfo{Version: CurrentLayoutVersion, CourseID: courseID}); err != nil {
		db.Close()
		return nil, report, fmt.Errorf("failed to stamp layout version: %w", err)
	}

	if report.Changed() {
		log.Info("course layout upgraded",
			"from_version", report.OldVersion,
			"to_version", report.NewVersion,
			"renamed_from", report.RenamedFrom,
			"documents", report.ImportedDocuments,
			"chunks", report.ImportedChunks)
	} else if report.OldVersion != report.NewVersion {
		log.Debug("course layout stamped", "version", report.NewVersion)
	}
	return db, report, nil
}

// renameLegacyFolder moves root/<courseID> to root/<folder> when only the
// former exists. Failures are logged and the new folder is used as is.
func renameLegacyFolder(root, folder, courseID string, log *logger.Logger) string {
	if folder == courseID {
		return ""
	}
	legacy := filepath.Join(root, courseID)
	target := filepath.Join(root, folder)
	if _, err := os.Stat(target); err == nil {
		return ""
	}
	st, err := os.Stat(legacy)
	if err != nil || !st.IsDir() {
		return ""
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		log.Warn("failed to create index root", "error", err)
		return ""
	}
	if err := os.Rename(legacy, target); err != nil {
		log.Warn("failed to migrate index folder", "from", legacy, "error", err)
		return ""
	}
	return legacy
}

func readLayoutInfo(db *bbolt.DB) (LayoutInfo, error) {
	var info LayoutInfo
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		if data := b.Get(keyLayoutVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				info.Version = 1
			}
		}
		info.CourseID = string(b.Get(keyCourseID))
		return nil
	})
	return info, err
}

func writeLayoutInfo(db *bbolt.DB, info LayoutInfo) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keyLayoutVersion, data); err != nil {
			return err
		}
		return b.Put(keyCourseID, []byte(info.CourseID))
	})
}

func runMigration(db *bbolt.DB, dir string, from, to int, report *LayoutReport, log *logger.Logger) error {
	switch {
	case from == 0 && to == 1:
		// the JSON layout never stamped a version
		return nil
	case from == 1 && to == 2:
		return importLegacyJSON(db, dir, report, log)
	default:
		return nil
	}
}

// legacyDocument accepts created_at strings the JSON layout wrote with or
// without a zone offset.
type legacyDocument struct {
	domain.Document
	CreatedAt string `json:"created_at"`
}

var legacyTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"}

func parseLegacyTime(value string) time.Time {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func importLegacyJSON(db *bbolt.DB, dir string, report *LayoutReport, log *logger.Logger) error {
	docsPath := filepath.Join(dir, legacyDocumentsFile)
	chunksDir := filepath.Join(dir, legacyChunksDir)
	chunksFile := filepath.Join(dir, legacyChunksFile)

	var legacyDocs []legacyDocument
	if err := readJSONFile(docsPath, &legacyDocs); err != nil {
		log.Warn("skipping unreadable legacy documents file", "path", docsPath, "error", err)
		legacyDocs = nil
	}
	docs := make([]domain.Document, 0, len(legacyDocs))
	for _, ld := range legacyDocs {
		doc := ld.Document
		doc.CreatedAt = parseLegacyTime(ld.CreatedAt)
		docs = append(docs, doc)
	}

	groups := make(map[string][]domain.Chunk)
	loaded := make(map[string]bool)
	total := 0
	for _, doc := range docs {
		var chunks []domain.Chunk
		name := groupKey(doc.Name, doc.ID) + ".json"
		path := filepath.Join(chunksDir, name)
		if err := readJSONFile(path, &chunks); err != nil {
			log.Warn("skipping unreadable legacy chunk file", "path", path, "error", err)
			continue
		}
		loaded[name] = true
		if len(chunks) > 0 {
			groups[doc.ID] = chunks
			total += len(chunks)
		}
	}

	// chunks whose document is missing from the documents file are kept
	// under a record rebuilt from their metadata
	byName := make(map[string]string)
	var order []string
	adopt := func(chunks []domain.Chunk) {
		for _, chunk := range chunks {
			if chunk.SourceDocID == "" {
				id, ok := byName[chunk.SourceDocName]
				if !ok {
					id = domain.NewID("doc")
					byName[chunk.SourceDocName] = id
				}
				chunk.SourceDocID = id
			}
			if _, ok := groups[chunk.SourceDocID]; !ok {
				order = append(order, chunk.SourceDocID)
			}
			groups[chunk.SourceDocID] = append(groups[chunk.SourceDocID], chunk)
			total++
		}
	}

	entries, err := os.ReadDir(chunksDir)
	if err != nil && !os.IsNotExist(err) {
		log.Warn("skipping unreadable legacy chunks dir", "path", chunksDir, "error", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || loaded[entry.Name()] {
			continue
		}
		var chunks []domain.Chunk
		path := filepath.Join(chunksDir, entry.Name())
		if err := readJSONFile(path, &chunks); err != nil {
			log.Warn("skipping unreadable legacy chunk file", "path", path, "error", err)
			continue
		}
		adopt(chunks)
	}
	if total == 0 {
		var all []domain.Chunk
		if err := readJSONFile(chunksFile, &all); err != nil {
			log.Warn("skipping unreadable legacy chunks file", "path", chunksFile, "error", err)
		}
		adopt(all)
	}
	docs = append(docs, documentsFromChunks(docs, order, groups)...)

	if len(docs) == 0 && total == 0 {
		return nil
	}

	imported := 0
	err = db.Update(func(tx *bbolt.Tx) error {
		if existing := tx.Bucket(bucketDocuments).Get(keyDocuments); existing != nil {
			log.Warn("course already has a bbolt documents record, legacy files left in place")
			return errAlreadyImported
		}
		data, err := json.Marshal(docs)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocuments).Put(keyDocuments, data); err != nil {
			return err
		}
		b := tx.Bucket(bucketChunkGroups)
		for _, doc := range docs {
			chunks, ok := groups[doc.ID]
			if !ok {
				continue
			}
			data, err := json.Marshal(chunks)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(groupKey(doc.Name, doc.ID)), data); err != nil {
				return err
			}
			imported += len(chunks)
		}
		return nil
	})
	if errors.Is(err, errAlreadyImported) {
		return nil
	}
	if err != nil {
		return err
	}
	report.ImportedDocuments = len(docs)
	report.ImportedChunks = imported

	if dropped := total - imported; dropped > 0 {
		log.Warn("legacy chunks without a document were not imported, legacy files left in place", "chunks", dropped)
		return nil
	}

	for _, path := range []string{docsPath, chunksDir, chunksFile} {
		if err := os.RemoveAll(path); err != nil {
			log.Warn("failed to remove legacy file", "path", path, "error", err)
		}
	}
	return nil
}

var errAlreadyImported = errors.New("layout already imported")

// documentsFromChunks builds records for chunk groups that have no entry in
// the legacy documents file, using the metadata of each group's first chunk.
func documentsFromChunks(known []domain.Document, order []string, groups map[string][]domain.Chunk) []domain.Document {
	seen := make(map[string]bool, len(known))
	for _, doc := range known {
		seen[doc.ID] = true
	}
	var out []domain.Document
	for _, id := range order {
		if seen[id] {
			continue
		}
		first := groups[id][0]
		name := strings.TrimSpace(first.SourceDocName)
		if name == "" {
			name = "unknown"
		}
		docType := strings.ToLower(strings.TrimSpace(first.SourceDocType))
		if docType == "" {
			docType = "unknown"
		}
		out = append(out, domain.Document{
			ID:       id,
			CourseID: first.CourseID,
			Name:     name,
			DocType:  docType,
			Status:   domain.StatusIndexed,
		})
	}
	return out
}

// readJSONFile leaves v untouched when the file does not exist.
func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
