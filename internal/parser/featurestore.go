package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
	"seehuhn.de/go/geom/rect"
)

// StoreOptions tunes the DuckDB instance behind a FeatureStore.
type StoreOptions struct {
	MemoryLimit string // e.g. "1GB"
	Threads     int
}

// DefaultStoreOptions mirrors the server defaults.
var DefaultStoreOptions = StoreOptions{MemoryLimit: "1GB", Threads: 4}

// FeatureStore keeps the parsed features of a session in a temporary DuckDB
// file, one row per feature with its bounding box, so large layers can be
// paged and windowed without holding every file in memory.
// Safe for concurrent use.
type FeatureStore struct {
	db     *sql.DB
	dbPath string

	mu        sync.Mutex
	nextID    int
	batchSize int
	batch     []featureRow
	files     map[string]int

	// Limits concurrent queries
	querySem chan struct{}
}

type featureRow struct {
	id     int
	fileID string
	seq    int
	feat   models.Feature
	box    rect.Rect
}

// NewFeatureStore creates a session store in the given temp directory.
func NewFeatureStore(tempDir string, sessionID string, opts StoreOptions) (*FeatureStore, error) {
	dbPath := filepath.Join(tempDir, fmt.Sprintf("features_%s.duckdb", sessionID))
	return NewFeatureStoreAtPath(dbPath, opts)
}

// NewFeatureStoreAtPath creates a store at a specific path.
func NewFeatureStoreAtPath(dbPath string, opts StoreOptions) (*FeatureStore, error) {
	fmt.Printf("[FeatureStore] Creating database at: %s\n", dbPath)

	if opts.MemoryLimit == "" {
		opts.MemoryLimit = DefaultStoreOptions.MemoryLimit
	}
	if opts.Threads <= 0 {
		opts.Threads = DefaultStoreOptions.Threads
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[FeatureStore] Pragma error: %v\n", err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE features (
			id       INTEGER PRIMARY KEY,
			file_id  VARCHAR NOT NULL,
			seq      INTEGER NOT NULL,
			kind     VARCHAR NOT NULL,
			polarity VARCHAR,
			min_x    DOUBLE NOT NULL,
			min_y    DOUBLE NOT NULL,
			max_x    DOUBLE NOT NULL,
			max_y    DOUBLE NOT NULL,
			payload  BLOB NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		os.Remove(dbPath)
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &FeatureStore{
		db:        db,
		dbPath:    dbPath,
		batchSize: 20000,
		batch:     make([]featureRow, 0, 20000),
		files:     make(map[string]int),
		querySem:  make(chan struct{}, 3),
	}, nil
}

// AddFile appends every feature of a parsed file in file order.
func (fs *FeatureStore) AddFile(fileID string, file *models.FeatureFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.files[fileID]; ok {
		return fmt.Errorf("file %s already stored", fileID)
	}
	for seq, f := range file.Features {
		box, err := FeatureBounds(f)
		if err != nil {
			return err
		}
		fs.batch = append(fs.batch, featureRow{id: fs.nextID, fileID: fileID, seq: seq, feat: f, box: box})
		fs.nextID++
		if len(fs.batch) >= fs.batchSize {
			if err := fs.flushBatch(); err != nil {
				return err
			}
		}
	}
	fs.files[fileID] = len(file.Features)
	return fs.flushBatch()
}

// flushBatch writes the pending rows with the native Appender API.
// Caller holds fs.mu.
func (fs *FeatureStore) flushBatch() error {
	if len(fs.batch) == 0 {
		return nil
	}

	startTime := time.Now()

	conn, err := fs.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "features")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for _, row := range fs.batch {
			payload, err := msgpack.Marshal(row.feat)
			if err != nil {
				return fmt.Errorf("encoding feature %d of %s: %w", row.seq, row.fileID, err)
			}
			err = appender.AppendRow(
				int32(row.id),
				row.fileID,
				int32(row.seq),
				string(row.feat.Kind()),
				string(featurePolarity(row.feat)),
				row.box.LLx,
				row.box.LLy,
				row.box.URx,
				row.box.URy,
				payload,
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", row.id, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	fmt.Printf("[FeatureStore] Flushed %d features in %v\n", len(fs.batch), time.Since(startTime))
	fs.batch = fs.batch[:0]
	return nil
}

// Len returns the total number of stored features.
func (fs *FeatureStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.nextID
}

// FileCount returns how many features were stored for fileID.
func (fs *FeatureStore) FileCount(fileID string) (int, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.files[fileID]
	return n, ok
}

// FeatureQuery filters a page of stored features.
type FeatureQuery struct {
	FileID   string
	Kinds    []models.FeatureKind
	Window   *rect.Rect // features whose box overlaps the window
	Page     int        // 1-based
	PageSize int
}

// QueryFeatures returns one page of matching features in file order and the
// total number of matches.
func (fs *FeatureStore) QueryFeatures(ctx context.Context, q FeatureQuery) ([]models.FeatureRecord, int, error) {
	select {
	case fs.querySem <- struct{}{}:
		defer func() { <-fs.querySem }()
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 1000
	}

	where, args := buildFeatureWhere(q)

	var total int
	countQuery := "SELECT COUNT(*) FROM features" + where
	if err := fs.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}
	if total == 0 {
		return []models.FeatureRecord{}, 0, nil
	}

	query := "SELECT file_id, seq, kind, payload FROM features" + where +
		" ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := fs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("feature query failed: %w", err)
	}
	defer rows.Close()

	records, err := scanFeatureRecords(rows, q.PageSize)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// FileFeatures returns every feature of one file in file order.
func (fs *FeatureStore) FileFeatures(ctx context.Context, fileID string) ([]models.Feature, error) {
	rows, err := fs.db.QueryContext(ctx,
		"SELECT file_id, seq, kind, payload FROM features WHERE file_id = ? ORDER BY seq", fileID)
	if err != nil {
		return nil, fmt.Errorf("feature query failed: %w", err)
	}
	defer rows.Close()

	records, err := scanFeatureRecords(rows, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Feature, len(records))
	for i, r := range records {
		out[i] = r.Feature
	}
	return out, nil
}

// Bounds returns the box enclosing every stored feature of fileID, or of
// the whole session when fileID is empty.
func (fs *FeatureStore) Bounds(ctx context.Context, fileID string) (rect.Rect, error) {
	query := "SELECT MIN(min_x), MIN(min_y), MAX(max_x), MAX(max_y) FROM features"
	var args []interface{}
	if fileID != "" {
		query += " WHERE file_id = ?"
		args = append(args, fileID)
	}
	var llx, lly, urx, ury sql.NullFloat64
	if err := fs.db.QueryRowContext(ctx, query, args...).Scan(&llx, &lly, &urx, &ury); err != nil {
		return rect.Rect{}, fmt.Errorf("bounds query failed: %w", err)
	}
	return rect.Rect{LLx: llx.Float64, LLy: lly.Float64, URx: urx.Float64, URy: ury.Float64}, nil
}

func buildFeatureWhere(q FeatureQuery) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if q.FileID != "" {
		clauses = append(clauses, "file_id = ?")
		args = append(args, q.FileID)
	}
	if len(q.Kinds) > 0 {
		marks := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		clauses = append(clauses, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if w := q.Window; w != nil {
		clauses = append(clauses, "max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?")
		args = append(args, w.LLx, w.URx, w.LLy, w.URy)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanFeatureRecords(rows *sql.Rows, capacity int) ([]models.FeatureRecord, error) {
	records := make([]models.FeatureRecord, 0, capacity)
	for rows.Next() {
		var (
			rec     models.FeatureRecord
			kind    string
			payload []byte
		)
		if err := rows.Scan(&rec.FileID, &rec.Seq, &kind, &payload); err != nil {
			return nil, err
		}
		rec.Kind = models.FeatureKind(kind)
		f, err := decodeFeature(rec.Kind, payload)
		if err != nil {
			return nil, fmt.Errorf("decoding %s feature %d of %s: %w", kind, rec.Seq, rec.FileID, err)
		}
		rec.Feature = f
		records = append(records, rec)
	}
	return records, rows.Err()
}

// decodeFeature restores the concrete variant named by kind.
func decodeFeature(kind models.FeatureKind, payload []byte) (models.Feature, error) {
	var f models.Feature
	switch kind {
	case models.FeatureKindPad:
		f = &models.Pad{}
	case models.FeatureKindLine:
		f = &models.Line{}
	case models.FeatureKindArc:
		f = &models.Arc{}
	case models.FeatureKindText:
		f = &models.Text{}
	case models.FeatureKindBarcode:
		f = &models.Barcode{}
	case models.FeatureKindSurface:
		f = &models.Surface{}
	default:
		return nil, fmt.Errorf("unknown feature kind %q", kind)
	}
	if err := msgpack.Unmarshal(payload, f); err != nil {
		return nil, err
	}
	return f, nil
}

func featurePolarity(f models.Feature) models.Polarity {
	switch v := f.(type) {
	case *models.Pad:
		return v.Polarity
	case *models.Line:
		return v.Polarity
	case *models.Arc:
		return v.Polarity
	case *models.Text:
		return v.Polarity
	case *models.Barcode:
		return v.Polarity
	case *models.Surface:
		return v.Polarity
	}
	return ""
}

// Close closes the database and removes the temp file.
func (fs *FeatureStore) Close() error {
	if fs.db != nil {
		fs.db.Close()
	}
	if fs.dbPath != "" {
		os.Remove(fs.dbPath)
		os.Remove(fs.dbPath + ".wal")
	}
	return nil
}
