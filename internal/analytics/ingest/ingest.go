// Package ingest loads exported sales_* files from a bucket into the
// warehouse, stamping every row with the snapshot date.
package ingest

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
)

// ErrNoFiles is returned when the bucket holds no matching sales file.
var ErrNoFiles = errors.New("no sales files found")

// ErrNoRows marks a file in which no line decoded to a sales record.
var ErrNoRows = errors.New("no usable rows")

// DefaultPrefix is the key prefix of exported sales files.
const DefaultPrefix = "sales_"

// maxLine bounds a single NDJSON line.
var maxLine = 16 << 20

var suffixes = []string{".jsonl", ".ndjson"}

// Options describes one ingestion run.
type Options struct {
	// BucketURL is a gocloud.dev bucket URL such as file:///data/raw or
	// s3://exports?region=sa-east-1.
	BucketURL  string
	Prefix     string
	InsertDate time.Time
	Dest       warehouse.Destination
	Write      warehouse.WriteOptions
	// Manifest, when set, skips files already loaded into Dest for the
	// same snapshot date.
	Manifest Manifest
}

// FileResult reports one file of a run.
type FileResult struct {
	Key      string
	Rows     int
	BadLines int
	Digest   string
	// Duplicate marks a file the manifest had already seen.
	Duplicate bool
	Err       error
}

// Result summarizes a run.
type Result struct {
	Files []FileResult
	Rows  int
}

// Duplicates returns the files skipped by the manifest.
func (r Result) Duplicates() []string {
	var out []string
	for _, f := range r.Files {
		if f.Duplicate {
			out = append(out, f.Key)
		}
	}
	return out
}

// Skipped returns the files that could not be read or held no usable row.
func (r Result) Skipped() []string {
	var out []string
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f.Key)
		}
	}
	return out
}

// Loader reads sales files and hands them to a warehouse writer.
type Loader struct {
	w   warehouse.Writer
	log *slog.Logger
}

func NewLoader(w warehouse.Writer, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{w: w, log: log}
}

// Run ingests every matching file in key order. A file that cannot be read
// is logged and skipped; a write failure aborts the run.
func (l *Loader) Run(ctx context.Context, opts Options) (Result, error) {
	var res Result
	bk, err := blob.OpenBucket(ctx, opts.BucketURL)
	if err != nil {
		return res, fmt.Errorf("open bucket %s: %w", opts.BucketURL, err)
	}
	defer bk.Close()

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	keys, err := listKeys(ctx, bk, prefix)
	if err != nil {
		return res, err
	}
	if len(keys) == 0 {
		return res, fmt.Errorf("%w: prefix %q in %s", ErrNoFiles, prefix, opts.BucketURL)
	}
	insertDate := opts.InsertDate
	if insertDate.IsZero() {
		insertDate = time.Now()
	}
	insertDate = SnapshotDate(insertDate)

	for _, key := range keys {
		l.log.Info("reading file", "key", key)
		recs, bad, digest, err := readFile(ctx, bk, key)
		if err != nil {
			l.log.Warn("skip unreadable file", "key", key, "err", err)
			res.Files = append(res.Files, FileResult{Key: key, Err: err})
			continue
		}
		if len(recs) == 0 {
			l.log.Warn("skip file without usable rows", "key", key, "malformed", bad)
			res.Files = append(res.Files, FileResult{Key: key, BadLines: bad, Digest: digest, Err: ErrNoRows})
			continue
		}
		if opts.Manifest != nil {
			seen, err := opts.Manifest.Loaded(ctx, opts.Dest, insertDate, digest)
			if err != nil {
				return res, fmt.Errorf("manifest: %w", err)
			}
			if seen {
				l.log.Info("file already loaded", "key", key, "digest", digest)
				res.Files = append(res.Files, FileResult{Key: key, Digest: digest, Duplicate: true})
				continue
			}
		}
		if bad > 0 {
			l.log.Warn("malformed lines dropped", "key", key, "count", bad)
		}
		for i := range recs {
			recs[i].InsertDate = insertDate
		}
		n, err := l.w.Write(ctx, opts.Dest, recs, opts.Write)
		res.Rows += n
		res.Files = append(res.Files, FileResult{Key: key, Rows: n, BadLines: bad, Digest: digest})
		if err != nil {
			return res, fmt.Errorf("write %s: %w", key, err)
		}
		if opts.Manifest != nil {
			err := opts.Manifest.Mark(ctx, LoadedFile{
				Dest: opts.Dest.String(), SnapshotDate: insertDate, Digest: digest, Key: key, Rows: n,
			})
			if err != nil {
				return res, fmt.Errorf("manifest: %w", err)
			}
		}
		l.log.Info("file loaded", "key", key, "rows", n, "table", opts.Dest.String())
	}
	return res, nil
}

// SnapshotDate truncates t to its calendar day in UTC, the insert_date
// stamped on loaded rows.
func SnapshotDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func listKeys(ctx context.Context, bk *blob.Bucket, prefix string) ([]string, error) {
	var keys []string
	it := bk.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if obj.IsDir || !hasSuffix(obj.Key) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func hasSuffix(key string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

func readFile(ctx context.Context, bk *blob.Bucket, key string) ([]warehouse.SaleRecord, int, string, error) {
	r, err := bk.NewReader(ctx, key, nil)
	if err != nil {
		return nil, 0, "", err
	}
	defer r.Close()
	h := sha256.New()
	sc := bufio.NewScanner(io.TeeReader(r, h))
	sc.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	var recs []warehouse.SaleRecord
	bad := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		rec, err := DecodeLine(line)
		if err != nil {
			bad++
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, bad, "", err
	}
	return recs, bad, hex.EncodeToString(h.Sum(nil)), nil
}
