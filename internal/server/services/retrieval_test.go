package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/cryptox"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/memory"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrievalFixture struct {
	svc     *RetrievalService
	repos   *memory.RepositoryManager
	objects *memObjects
	legacy  *memLegacy
}

func newRetrievalFixture(t *testing.T) *retrievalFixture {
	t.Helper()
	fx := &retrievalFixture{
		repos:   memory.NewRepositoryManager(),
		objects: newMemObjects(),
		legacy:  &memLegacy{files: map[string][]byte{}},
	}
	fx.svc = NewRetrievalService(nil, fx.repos, fx.objects, fx.legacy, testConfig(), logging.NewDiscardLogger())
	return fx
}

func (fx *retrievalFixture) transfer(t *testing.T, mutate func(*models.Transfer)) *models.Transfer {
	t.Helper()
	token, err := cryptox.NewShareToken()
	require.NoError(t, err)
	tr := &models.Transfer{
		ShareToken:   token,
		Title:        "Q1 Report?!.final",
		SenderEmail:  owner,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		IsActive:     true,
		UploadStatus: common.StatusReady,
	}
	if mutate != nil {
		mutate(tr)
	}
	require.NoError(t, fx.repos.Transfers(nil).Create(context.Background(), tr))
	return tr
}

func (fx *retrievalFixture) file(t *testing.T, tr *models.Transfer, pos int, name string, loc models.Location) *models.File {
	t.Helper()
	f := &models.File{
		TransferID:       tr.ID,
		Position:         pos,
		OriginalFilename: name,
		ContentType:      "text/plain",
		Location:         loc,
		UploadStatus:     common.StatusCompleted,
	}
	require.NoError(t, fx.repos.Files(nil).Create(context.Background(), f))
	return f
}

func readPayload(t *testing.T, p *Payload) []byte {
	t.Helper()
	defer p.Body.Close()
	b, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(len(b)), p.Size)
	return b
}

func TestInfo_GuardOrder(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)

	expired := fx.transfer(t, func(tr *models.Transfer) {
		tr.ExpiresAt = time.Now().Add(-time.Minute)
		tr.DownloadLimit = 5
		tr.DownloadCount = 1
	})
	_, err := fx.svc.Info(ctx, expired.ShareToken)
	assert.ErrorIs(t, err, common.ErrTransferExpired)

	expiredAndExhausted := fx.transfer(t, func(tr *models.Transfer) {
		tr.ExpiresAt = time.Now().Add(-time.Minute)
		tr.DownloadLimit = 1
		tr.DownloadCount = 1
	})
	_, err = fx.svc.Info(ctx, expiredAndExhausted.ShareToken)
	assert.ErrorIs(t, err, common.ErrTransferExpired)

	exhausted := fx.transfer(t, func(tr *models.Transfer) {
		tr.DownloadLimit = 2
		tr.DownloadCount = 2
	})
	_, err = fx.svc.Info(ctx, exhausted.ShareToken)
	assert.ErrorIs(t, err, common.ErrDownloadLimit)

	inactive := fx.transfer(t, func(tr *models.Transfer) { tr.IsActive = false })
	_, err = fx.svc.Info(ctx, inactive.ShareToken)
	assert.ErrorIs(t, err, common.ErrTransferInactive)

	_, err = fx.svc.Info(ctx, "does-not-exist")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInfo_HidesPendingFiles(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "a.txt", models.InlineLocation{Data: "YQ=="})
	fx.file(t, tr, 1, "b.txt", models.ObjectLocation{Key: "uploads/b"})
	p := &models.File{TransferID: tr.ID, Position: 2, OriginalFilename: "c.txt", Location: models.ObjectLocation{Key: "uploads/c"}, UploadStatus: common.StatusPending}
	require.NoError(t, fx.repos.Files(nil).Create(ctx, p))

	info, err := fx.svc.Info(ctx, tr.ShareToken)
	require.NoError(t, err)
	assert.Len(t, info.Files, 2)
}

func TestConfirmDownload_WrongPasswordNeverIncrements(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	hash, err := cryptox.HashPassword("right")
	require.NoError(t, err)
	tr := fx.transfer(t, func(tr *models.Transfer) {
		tr.PasswordHash = &hash
		tr.PasswordProtected = true
		tr.DownloadLimit = 1
	})

	for _, pw := range []string{"", "wrong", "Right"} {
		_, err := fx.svc.ConfirmDownload(ctx, tr.ShareToken, pw, ClientInfo{IP: "10.0.0.1"})
		assert.ErrorIs(t, err, common.ErrInvalidPassword)
	}
	got, err := fx.repos.Transfers(nil).GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DownloadCount)

	c, err := fx.svc.ConfirmDownload(ctx, tr.ShareToken, "right", ClientInfo{IP: "10.0.0.1", UserAgent: "curl/8"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.DownloadCount)
	assert.NotEmpty(t, c.Grant)

	n, err := fx.repos.DownloadLogs(nil).CountByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = fx.svc.ConfirmDownload(ctx, tr.ShareToken, "right", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrDownloadLimit)
}

func TestConfirmDownload_ConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.ConfirmDownload(ctx, tr.ShareToken, "", ClientInfo{IP: "10.0.0.2"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := fx.repos.Transfers(nil).GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.DownloadCount)

	n, err := fx.repos.DownloadLogs(nil).CountByTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestConfirmDownload_ConcurrentRespectsLimit(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, func(tr *models.Transfer) { tr.DownloadLimit = 10 })

	var ok, limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.ConfirmDownload(ctx, tr.ShareToken, "", ClientInfo{})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, common.ErrDownloadLimit):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(40), limited.Load())
}

func TestDownload_SingleFileBackends(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	fx.objects.seed("uploads/a", []byte("from object store"), time.Now())
	fx.legacy.files["transfers/old/b.txt"] = []byte("from legacy")

	cases := []struct {
		loc  models.Location
		want string
	}{
		{models.ObjectLocation{Key: "uploads/a"}, "from object store"},
		{models.LegacyLocation{Path: "transfers/old/b.txt"}, "from legacy"},
		{models.InlineLocation{Data: "ZnJvbSBkYXRhYmFzZQ=="}, "from database"},
	}
	for _, c := range cases {
		tr := fx.transfer(t, nil)
		fx.file(t, tr, 0, "dir/../x.txt", c.loc)

		p, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
		require.NoError(t, err)
		assert.Equal(t, c.want, string(readPayload(t, p)))
		assert.Equal(t, "x.txt", p.Filename)
		assert.Equal(t, "text/plain", p.ContentType)
	}
}

func TestDownload_BackendErrorIsTerminal(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "a.txt", models.ObjectLocation{Key: "uploads/missing"})

	_, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
	assert.ErrorIs(t, err, common.ErrDownloadFailed)
}

func TestDownload_LegacyNotConfigured(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	fx.svc = NewRetrievalService(nil, fx.repos, fx.objects, nil, testConfig(), logging.NewDiscardLogger())
	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "old.txt", models.LegacyLocation{Path: "transfers/old.txt"})

	_, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
	assert.ErrorIs(t, err, common.ErrDownloadFailed)
}

func TestDownload_ArchiveSkipsFailedFile(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	fx.objects.seed("uploads/1", []byte("one"), time.Now())
	fx.objects.seed("uploads/2", []byte("two"), time.Now())
	fx.objects.seed("uploads/3", []byte("three"), time.Now())
	fx.objects.getErr["uploads/2"] = errBoom

	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "one.txt", models.ObjectLocation{Key: "uploads/1"})
	fx.file(t, tr, 1, "two.txt", models.ObjectLocation{Key: "uploads/2"})
	fx.file(t, tr, 2, "three.txt", models.ObjectLocation{Key: "uploads/3"})

	p, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Q1 Reportfinal.zip", p.Filename)
	assert.Equal(t, ArchiveContentType, p.ContentType)

	data := readPayload(t, p)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "one.txt", zr.File[0].Name)
	assert.Equal(t, "three.txt", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "three", string(got))
}

func TestDownload_ArchiveAllFailing(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "a", models.ObjectLocation{Key: "uploads/x"})
	fx.file(t, tr, 1, "b", models.LegacyLocation{Path: "nope"})

	_, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
	assert.ErrorIs(t, err, common.ErrArchiveEmpty)
}

func TestDownload_SelectedFile(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, nil)
	fx.file(t, tr, 0, "a.txt", models.InlineLocation{Data: "YQ=="})
	b := fx.file(t, tr, 1, "b.txt", models.InlineLocation{Data: "Yg=="})

	p, err := fx.svc.Download(ctx, tr.ShareToken, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "b", string(readPayload(t, p)))

	other := fx.transfer(t, nil)
	foreign := fx.file(t, other, 0, "c.txt", models.InlineLocation{Data: "Yw=="})
	_, err = fx.svc.Download(ctx, tr.ShareToken, foreign.ID, "")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDownload_PasswordProtectedNeedsGrant(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	hash, err := cryptox.HashPassword("pw")
	require.NoError(t, err)
	tr := fx.transfer(t, func(tr *models.Transfer) {
		tr.PasswordHash = &hash
		tr.PasswordProtected = true
		tr.DownloadLimit = 1
	})
	fx.file(t, tr, 0, "a.txt", models.InlineLocation{Data: "YQ=="})

	_, err = fx.svc.Download(ctx, tr.ShareToken, "", "")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, err = fx.svc.Download(ctx, tr.ShareToken, "", "forged")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	c, err := fx.svc.ConfirmDownload(ctx, tr.ShareToken, "pw", ClientInfo{})
	require.NoError(t, err)

	// the limit is now reached, but the grant still releases the bytes
	p, err := fx.svc.Download(ctx, tr.ShareToken, "", c.Grant)
	require.NoError(t, err)
	assert.Equal(t, "a", string(readPayload(t, p)))
}

func TestDownload_ExpiredIsGone(t *testing.T) {
	ctx := context.Background()
	fx := newRetrievalFixture(t)
	tr := fx.transfer(t, func(tr *models.Transfer) { tr.ExpiresAt = time.Now().Add(-time.Second) })
	fx.file(t, tr, 0, "a.txt", models.InlineLocation{Data: "YQ=="})

	_, err := fx.svc.Download(ctx, tr.ShareToken, "", "")
	assert.ErrorIs(t, err, common.ErrTransferExpired)
}
