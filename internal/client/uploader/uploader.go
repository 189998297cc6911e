// Package uploader pushes local files to the server with the chunked
// multipart protocol. Each chunk is PUT straight to the object store through
// a presigned part URL; the server only coordinates the session.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/client/api"
	"github.com/dmitrijs2005/sharedrop/internal/client/resume"
	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/netx"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	ChunkSize      = 1 << 20
	MaxAttempts    = 3
	RetryBaseDelay = time.Second
	AttemptTimeout = 25 * time.Second
	Concurrency    = 3
)

// API is the slice of the server surface the uploader needs.
type API interface {
	Initiate(ctx context.Context, filename, contentType string, index int) (*api.Session, error)
	PartURL(ctx context.Context, sessionID, objectKey string, partNumber int32) (string, error)
	ListParts(ctx context.Context, sessionID, objectKey string) ([]api.Part, error)
	Complete(ctx context.Context, sessionID, objectKey string, parts []api.Part, md *api.TransferMetadata) (*api.Transfer, error)
	RecordTransfer(ctx context.Context, files []api.UploadedFile, md api.TransferMetadata) (*api.Transfer, error)
}

// Ledger remembers open sessions between runs. Lookup returns nil when the
// file has no open session.
type Ledger interface {
	Lookup(ctx context.Context, k resume.Key) (*resume.Entry, error)
	Save(ctx context.Context, e *resume.Entry) error
	Forget(ctx context.Context, k resume.Key) error
}

type Options struct {
	ChunkSize      int64
	MaxAttempts    uint64
	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration
	Concurrency    int
	HTTPClient     *http.Client
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:      ChunkSize,
		MaxAttempts:    MaxAttempts,
		RetryBaseDelay: RetryBaseDelay,
		AttemptTimeout: AttemptTimeout,
		Concurrency:    Concurrency,
	}
}

// Progress receives bytes uploaded so far across the batch and the batch
// total. Calls are serialized.
type Progress func(uploaded, total int64)

type FileResult struct {
	Path      string
	Name      string
	ObjectKey string
	Size      int64
	Resumed   bool
	Err       error
}

type Result struct {
	Files    []FileResult
	Transfer *api.Transfer
}

// Failed lists the files that did not make it.
func (r *Result) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

type Uploader struct {
	api    API
	ledger Ledger
	opts   Options
	logger logging.Logger
}

// New builds an Uploader. ledger may be nil to disable resuming. Zero option
// fields take their defaults.
func New(a API, ledger Ledger, opts Options, l logging.Logger) *Uploader {
	d := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = d.ChunkSize
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = d.MaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = d.RetryBaseDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = d.AttemptTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = d.Concurrency
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Uploader{api: a, ledger: ledger, opts: opts, logger: l.With("module", "uploader")}
}

type job struct {
	index int
	path  string
	name  string
	ctype string
	key   resume.Key
}

type progress struct {
	mu       sync.Mutex
	uploaded int64
	total    int64
	fn       Progress
}

func (p *progress) add(n int64) {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded += n
	p.fn(p.uploaded, p.total)
}

// Upload sends every path and, when md is set, turns the successful ones
// into one transfer. A file that fails never stops its siblings. The
// returned error is set only when nothing could be shared.
func (u *Uploader) Upload(ctx context.Context, paths []string, md *api.TransferMetadata, fn Progress) (*Result, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrorValidation)
	}

	res := &Result{Files: make([]FileResult, len(paths))}
	jobs := make([]*job, len(paths))
	p := &progress{fn: fn}

	for i, path := range paths {
		res.Files[i] = FileResult{Path: path, Name: filepath.Base(path)}
		j, err := u.prepare(i, path)
		if err != nil {
			res.Files[i].Err = err
			continue
		}
		jobs[i] = j
		res.Files[i].Size = j.key.Size
		p.total += j.key.Size
	}

	single := len(paths) == 1 && md != nil

	var g errgroup.Group
	g.SetLimit(u.opts.Concurrency)
	for i, j := range jobs {
		if j == nil {
			continue
		}
		g.Go(func() error {
			var inline *api.TransferMetadata
			if single {
				m := *md
				m.OriginalFilename = j.name
				m.FileSize = j.key.Size
				m.ContentType = j.ctype
				inline = &m
			}
			objectKey, resumed, tr, err := u.uploadFile(ctx, j, inline, p)
			res.Files[i].ObjectKey = objectKey
			res.Files[i].Resumed = resumed
			res.Files[i].Err = err
			if tr != nil {
				res.Transfer = tr
			}
			if err != nil {
				u.logger.Warn(ctx, "file upload failed", "file", j.name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if single || md == nil {
		if len(res.Failed()) == len(paths) {
			return res, fmt.Errorf("%w: every file failed", common.ErrUploadFailed)
		}
		return res, nil
	}

	var uploaded []api.UploadedFile
	for i, f := range res.Files {
		if f.Err != nil {
			continue
		}
		uploaded = append(uploaded, api.UploadedFile{
			ObjectKey:        f.ObjectKey,
			OriginalFilename: f.Name,
			ContentType:      jobs[i].ctype,
		})
	}
	if len(uploaded) == 0 {
		return res, fmt.Errorf("%w: every file failed", common.ErrUploadFailed)
	}

	tr, err := u.api.RecordTransfer(ctx, uploaded, *md)
	if err != nil {
		return res, fmt.Errorf("record transfer: %w", err)
	}
	res.Transfer = tr
	return res, nil
}

func (u *Uploader) prepare(index int, path string) (*job, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", common.ErrorValidation, path)
	}
	name := filepath.Base(abs)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return &job{
		index: index,
		path:  abs,
		name:  name,
		ctype: ctype,
		key:   resume.Key{Path: abs, Size: st.Size(), ModTime: st.ModTime()},
	}, nil
}

// uploadFile runs one file through initiate (or resume), every part and
// finalize. On failure the session is left open and stays in the ledger.
func (u *Uploader) uploadFile(ctx context.Context, j *job, md *api.TransferMetadata, p *progress) (string, bool, *api.Transfer, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return "", false, nil, err
	}
	defer f.Close()

	session, have, resumed := u.resume(ctx, j)
	if session == nil {
		session, err = u.api.Initiate(ctx, j.name, j.ctype, j.index)
		if err != nil {
			return "", false, nil, fmt.Errorf("initiate: %w", err)
		}
		u.remember(ctx, j, session)
	}

	n := partCount(j.key.Size, u.opts.ChunkSize)
	parts := make([]api.Part, 0, n)
	buf := make([]byte, u.opts.ChunkSize)

	for pn := int32(1); pn <= n; pn++ {
		off := int64(pn-1) * u.opts.ChunkSize
		size := min(u.opts.ChunkSize, j.key.Size-off)

		if etag, ok := have[pn]; ok {
			parts = append(parts, api.Part{PartNumber: pn, ETag: etag})
			p.add(size)
			continue
		}

		chunk := buf[:size]
		if _, err := f.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return session.ObjectKey, resumed, nil, fmt.Errorf("read part %d: %w", pn, err)
		}

		etag, err := u.putPart(ctx, session, pn, chunk)
		if err != nil {
			return session.ObjectKey, resumed, nil, fmt.Errorf("part %d: %w", pn, err)
		}
		parts = append(parts, api.Part{PartNumber: pn, ETag: etag})
		p.add(size)
	}

	sort.Slice(parts, func(a, b int) bool { return parts[a].PartNumber < parts[b].PartNumber })

	tr, err := u.api.Complete(ctx, session.SessionID, session.ObjectKey, parts, md)
	if err != nil {
		return session.ObjectKey, resumed, nil, fmt.Errorf("complete: %w", err)
	}
	u.forget(ctx, j)
	return session.ObjectKey, resumed, tr, nil
}

// putPart mints a part URL and PUTs the chunk, retrying with a linear
// backoff. Every attempt gets its own timeout.
func (u *Uploader) putPart(ctx context.Context, s *api.Session, pn int32, chunk []byte) (string, error) {
	var attempt int64
	backoff := retry.WithMaxRetries(u.opts.MaxAttempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * u.opts.RetryBaseDelay, false
	}))

	var etag string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, u.opts.AttemptTimeout)
		defer cancel()

		url, err := u.api.PartURL(actx, s.SessionID, s.ObjectKey, pn)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		etag, err = netx.PutPart(actx, u.opts.HTTPClient, url, chunk)
		if err != nil {
			u.logger.Debug(ctx, "part attempt failed", "object_key", s.ObjectKey, "part", pn, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

// resume looks the file up in the ledger and asks the server which parts it
// already holds. Any failure means starting over with a fresh session.
func (u *Uploader) resume(ctx context.Context, j *job) (*api.Session, map[int32]string, bool) {
	if u.ledger == nil {
		return nil, nil, false
	}
	e, err := u.ledger.Lookup(ctx, j.key)
	if err != nil {
		u.logger.Warn(ctx, "resume ledger lookup failed", "file", j.name, "error", err)
		return nil, nil, false
	}
	if e == nil {
		return nil, nil, false
	}

	parts, err := u.api.ListParts(ctx, e.SessionID, e.ObjectKey)
	if err != nil {
		u.logger.Info(ctx, "stale upload session, starting over", "file", j.name, "error", err)
		u.forget(ctx, j)
		return nil, nil, false
	}

	have := make(map[int32]string, len(parts))
	for _, p := range parts {
		if p.ETag != "" {
			have[p.PartNumber] = p.ETag
		}
	}
	u.logger.Info(ctx, "resuming upload", "file", j.name, "parts", len(have))
	return &api.Session{SessionID: e.SessionID, ObjectKey: e.ObjectKey}, have, true
}

func (u *Uploader) remember(ctx context.Context, j *job, s *api.Session) {
	if u.ledger == nil {
		return
	}
	err := u.ledger.Save(ctx, &resume.Entry{Key: j.key, SessionID: s.SessionID, ObjectKey: s.ObjectKey})
	if err != nil {
		u.logger.Warn(ctx, "resume ledger save failed", "file", j.name, "error", err)
	}
}

func (u *Uploader) forget(ctx context.Context, j *job) {
	if u.ledger == nil {
		return
	}
	if err := u.ledger.Forget(ctx, j.key); err != nil {
		u.logger.Warn(ctx, "resume ledger forget failed", "file", j.name, "error", err)
	}
}

// partCount is the number of chunks for size bytes. An empty file is still
// one (empty) part.
func partCount(size, chunk int64) int32 {
	if size <= 0 {
		return 1
	}
	return int32((size + chunk - 1) / chunk)
}
