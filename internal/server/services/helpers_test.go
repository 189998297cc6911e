package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/cryptox"
	"github.com/dmitrijs2005/sharedrop/internal/server/config"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/notify"
	"github.com/dmitrijs2005/sharedrop/internal/server/storage/objectstore"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	cryptox.PasswordCost = bcrypt.MinCost
}

var errBoom = errors.New("boom")

type storedObject struct {
	data        []byte
	contentType string
	owner       string
	modified    time.Time
}

type openUpload struct {
	key   string
	owner string
	parts map[int32][]byte
}

// memObjects is a small in-memory stand-in for the object store. Multipart
// parts are written with putPart, the way a client would PUT to a presigned
// URL.
type memObjects struct {
	mu      sync.Mutex
	objects map[string]storedObject
	uploads map[string]*openUpload
	seq     int

	createErr   error
	presignErr  error
	completeErr error
	putErr      error
	getErr      map[string]error

	presigned []string
	aborted   []string
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects: map[string]storedObject{},
		uploads: map[string]*openUpload{},
		getErr:  map[string]error{},
	}
}

func (m *memObjects) CreateMultipartUpload(ctx context.Context, key, contentType, owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.seq++
	id := fmt.Sprintf("upload-%d", m.seq)
	m.uploads[id] = &openUpload{key: key, owner: owner, parts: map[int32][]byte{}}
	return id, nil
}

func (m *memObjects) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presignErr != nil {
		return "", m.presignErr
	}
	url := fmt.Sprintf("https://s3.test/%s?uploadId=%s&partNumber=%d&ttl=%s", key, uploadID, partNumber, ttl)
	m.presigned = append(m.presigned, url)
	return url, nil
}

func (m *memObjects) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presignErr != nil {
		return "", m.presignErr
	}
	url := fmt.Sprintf("https://s3.test/%s?ttl=%s", key, ttl)
	m.presigned = append(m.presigned, url)
	return url, nil
}

func (m *memObjects) putPart(uploadID string, n int32, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[uploadID].parts[n] = append([]byte(nil), data...)
	return fmt.Sprintf(`"etag-%d"`, n)
}

func (m *memObjects) ListParts(ctx context.Context, key, uploadID string) ([]models.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	var out []models.Part
	for n := range u.parts {
		out = append(out, models.Part{PartNumber: n, ETag: fmt.Sprintf(`"etag-%d"`, n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

func (m *memObjects) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return errors.New("NoSuchUpload")
	}
	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := u.parts[p.PartNumber]
		if !ok {
			return fmt.Errorf("InvalidPart %d", p.PartNumber)
		}
		buf.Write(data)
	}
	m.objects[key] = storedObject{data: buf.Bytes(), owner: u.owner, modified: time.Now()}
	delete(m.uploads, uploadID)
	return nil
}

func (m *memObjects) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

func (m *memObjects) Head(ctx context.Context, key string) (*models.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.ObjectInfo{Key: key, Size: int64(len(o.data)), ContentType: o.contentType, Owner: o.owner}, nil
}

func (m *memObjects) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[key]; err != nil {
		return nil, 0, err
	}
	o, ok := m.objects[key]
	if !ok {
		return nil, 0, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(o.data)), int64(len(o.data)), nil
}

func (m *memObjects) Walk(ctx context.Context, prefix string, fn func([]objectstore.ObjectSummary) error) error {
	m.mu.Lock()
	var page []objectstore.ObjectSummary
	for k, o := range m.objects {
		page = append(page, objectstore.ObjectSummary{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
	}
	m.mu.Unlock()
	sort.Slice(page, func(i, j int) bool { return page[i].Key < page[j].Key })
	return fn(page)
}

func (m *memObjects) seed(key string, data []byte, modified time.Time) {
	m.seedFor("", key, data, modified)
}

// seedFor stores an object as if sender had finished a multipart upload.
func (m *memObjects) seedFor(sender, key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{data: data, owner: sender, modified: modified}
}

type memLegacy struct {
	files map[string][]byte
}

func (l *memLegacy) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	data, ok := l.files[path]
	if !ok {
		return nil, 0, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.Transfer
	to    [][]string
}

func (n *recordingNotifier) TransferShared(ctx context.Context, recipients []string, t notify.Transfer) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, t)
	n.to = append(n.to, recipients)
	return notify.Result{Sent: len(recipients)}
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.SecretKey = "test-secret"
	c.MaxInlineSize = 1 << 10
	c.MaxFileSize = 1 << 20
	return c
}

// txDB returns a sqlmock DB that accepts n Begin/Commit pairs. The memory
// repositories ignore the handle, so only the transaction calls are seen.
func txDB(t *testing.T, n int) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return db, mock
}

// rollbackDB expects one transaction that is rolled back.
func rollbackDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectBegin()
	mock.ExpectRollback()
	return db, mock
}
