package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "alice@example.com"

func newMultipart(t *testing.T) (*MultipartService, *memObjects, *sessions.MemoryRegistry) {
	t.Helper()
	store := newMemObjects()
	reg := sessions.NewMemoryRegistry()
	return NewMultipartService(store, reg, logging.NewDiscardLogger()), store, reg
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func shuffle(t *testing.T, parts []models.Part) {
	t.Helper()
	for i := len(parts) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		require.NoError(t, err)
		parts[i], parts[j.Int64()] = parts[j.Int64()], parts[i]
	}
}

func TestMultipart_AssemblesByteIdentical(t *testing.T) {
	const chunk = 64
	for _, n := range []int{1, 2, 100} {
		t.Run(fmt.Sprintf("%d parts", n), func(t *testing.T) {
			ctx := context.Background()
			svc, store, _ := newMultipart(t)

			// last chunk is short
			content := randomBytes(t, chunk*(n-1)+chunk/2+1)

			sess, err := svc.Initiate(ctx, owner, "data.bin", "", 0)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(sess.ObjectKey, UploadPrefix))

			var parts []models.Part
			for i := 0; i < n; i++ {
				end := (i + 1) * chunk
				if end > len(content) {
					end = len(content)
				}
				pn := int32(i + 1)
				_, err := svc.PartURL(ctx, owner, sess.SessionID, sess.ObjectKey, pn)
				require.NoError(t, err)
				etag := store.putPart(sess.SessionID, pn, content[i*chunk:end])
				parts = append(parts, models.Part{PartNumber: pn, ETag: etag})
			}
			shuffle(t, parts)

			info, err := svc.Complete(ctx, owner, sess.SessionID, sess.ObjectKey, parts)
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), info.Size)
			assert.Equal(t, "application/octet-stream", info.ContentType)

			body, size, err := store.Get(ctx, sess.ObjectKey)
			require.NoError(t, err)
			defer body.Close()
			got, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), size)
			assert.Equal(t, content, got)
		})
	}
}

func TestMultipart_CompleteRejectsGapsBeforeBackend(t *testing.T) {
	ctx := context.Background()
	svc, store, reg := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "text/plain", 0)
	require.NoError(t, err)

	cases := [][]models.Part{
		nil,
		{{PartNumber: 1, ETag: "a"}, {PartNumber: 3, ETag: "c"}},
		{{PartNumber: 2, ETag: "b"}},
		{{PartNumber: 1, ETag: "a"}, {PartNumber: 1, ETag: "a"}},
		{{PartNumber: 1, ETag: ""}},
	}
	for _, parts := range cases {
		_, err := svc.Complete(ctx, owner, sess.SessionID, sess.ObjectKey, parts)
		assert.ErrorIs(t, err, common.ErrIncompleteParts)
	}

	// still open on the backend and in the registry
	_, err = store.ListParts(ctx, sess.ObjectKey, sess.SessionID)
	assert.NoError(t, err)
	_, err = reg.Get(ctx, sess.SessionID)
	assert.NoError(t, err)
}

func TestMultipart_BackendRejectionKeepsSession(t *testing.T) {
	ctx := context.Background()
	svc, store, reg := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "", 0)
	require.NoError(t, err)
	etag := store.putPart(sess.SessionID, 1, []byte("x"))

	store.completeErr = errBoom
	_, err = svc.Complete(ctx, owner, sess.SessionID, sess.ObjectKey, []models.Part{{PartNumber: 1, ETag: etag}})
	assert.ErrorIs(t, err, common.ErrFinalizeFailed)

	_, err = reg.Get(ctx, sess.SessionID)
	assert.NoError(t, err)
}

func TestMultipart_CompleteDropsSession(t *testing.T) {
	ctx := context.Background()
	svc, store, reg := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "text/plain", 0)
	require.NoError(t, err)
	etag := store.putPart(sess.SessionID, 1, []byte("hello"))

	info, err := svc.Complete(ctx, owner, sess.SessionID, sess.ObjectKey, []models.Part{{PartNumber: 1, ETag: etag}})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, owner, info.Owner)

	_, err = reg.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMultipart_SessionOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "", 0)
	require.NoError(t, err)

	_, err = svc.PartURL(ctx, "mallory@example.com", sess.SessionID, sess.ObjectKey, 1)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)

	_, err = svc.ListParts(ctx, owner, sess.SessionID, "uploads/other")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)

	_, err = svc.PartURL(ctx, owner, "unknown", sess.ObjectKey, 1)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMultipart_PartURL(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "", 0)
	require.NoError(t, err)

	url, err := svc.PartURL(ctx, owner, sess.SessionID, sess.ObjectKey, 7)
	require.NoError(t, err)
	assert.Contains(t, url, "partNumber=7")
	assert.Contains(t, url, "ttl=5m0s")

	for _, bad := range []int32{0, -1, MaxPartNumber + 1} {
		_, err := svc.PartURL(ctx, owner, sess.SessionID, sess.ObjectKey, bad)
		assert.ErrorIs(t, err, common.ErrorValidation)
	}
}

func TestMultipart_ListPartsForResume(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "", 0)
	require.NoError(t, err)
	store.putPart(sess.SessionID, 2, []byte("b"))
	store.putPart(sess.SessionID, 1, []byte("a"))

	parts, err := svc.ListParts(ctx, owner, sess.SessionID, sess.ObjectKey)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, int32(1), parts[0].PartNumber)
}

func TestMultipart_Abort(t *testing.T) {
	ctx := context.Background()
	svc, store, reg := newMultipart(t)
	sess, err := svc.Initiate(ctx, owner, "a.txt", "", 0)
	require.NoError(t, err)

	require.NoError(t, svc.Abort(ctx, owner, sess.SessionID, sess.ObjectKey))
	assert.Equal(t, []string{sess.SessionID}, store.aborted)
	_, err = reg.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMultipart_InitiateErrors(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newMultipart(t)

	_, err := svc.Initiate(ctx, owner, "  ", "", 0)
	assert.ErrorIs(t, err, common.ErrorValidation)

	store.createErr = errBoom
	_, err = svc.Initiate(ctx, owner, "a.txt", "", 0)
	assert.ErrorIs(t, err, common.ErrUploadFailed)
}

func TestSortParts(t *testing.T) {
	got, err := SortParts([]models.Part{{PartNumber: 3, ETag: "c"}, {PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []models.Part{{PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}, {PartNumber: 3, ETag: "c"}}, got)
}
