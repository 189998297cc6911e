package transfers

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

var transferColumns = []string{"id", "share_token", "title", "message", "sender_email", "recipient_emails",
	"password_hash", "password_protected", "expires_at", "download_limit", "download_count",
	"is_active", "upload_status", "created_at", "updated_at"}

func TestCreate_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	exp := now.Add(7 * 24 * time.Hour)
	hash := "$2a$10$abc"

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+transfers\b.*RETURNING id, created_at, updated_at`).
		WithArgs("tok", "Q1", "hi", "a@x.io", sqlmock.AnyArg(), &hash, true, exp, 3, 0, true, "ready").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("t1", now, now))

	tr := &models.Transfer{
		ShareToken: "tok", Title: "Q1", Message: "hi", SenderEmail: "a@x.io",
		RecipientEmails: []string{"b@x.io"}, PasswordHash: &hash, PasswordProtected: true,
		ExpiresAt: exp, DownloadLimit: 3, IsActive: true, UploadStatus: "ready",
	}
	require.NoError(t, repo.Create(context.Background(), tr))
	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, now, tr.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+transfers`).WillReturnError(errors.New("duplicate key"))

	err := repo.Create(context.Background(), &models.Transfer{ShareToken: "tok"})
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*duplicate key`), err.Error())
}

func TestGetByShareToken_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(transferColumns).
		AddRow("t1", "tok", "Q1", "", "a@x.io", "{b@x.io,c@x.io}", "$2a$10$abc", true, now, 5, 2, true, "ready", now, now)

	mock.ExpectQuery(`SELECT .* FROM transfers WHERE share_token = \$1`).
		WithArgs("tok").
		WillReturnRows(rows)

	got, err := repo.GetByShareToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, []string{"b@x.io", "c@x.io"}, got.RecipientEmails)
	require.NotNil(t, got.PasswordHash)
	assert.Equal(t, "$2a$10$abc", *got.PasswordHash)
	assert.Equal(t, 5, got.DownloadLimit)
	assert.Equal(t, 2, got.DownloadCount)
}

func TestGetByShareToken_NoPassword(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(transferColumns).
		AddRow("t1", "tok", "", "", "a@x.io", "{}", nil, false, now, 0, 0, true, "ready", now, now)
	mock.ExpectQuery(`FROM transfers WHERE share_token`).WithArgs("tok").WillReturnRows(rows)

	got, err := repo.GetByShareToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, got.PasswordHash)
	assert.Empty(t, got.RecipientEmails)
}

func TestGetByShareToken_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM transfers WHERE share_token`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByShareToken(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM transfers WHERE id = \$1`).WithArgs("t1").WillReturnError(errors.New("conn reset"))

	_, err := repo.GetByID(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: conn reset")
}

func TestIncrementDownloadCount(t *testing.T) {
	q := `(?s)UPDATE transfers SET download_count = download_count \+ 1.*WHERE id = \$1 AND \(download_limit = 0 OR download_count < download_limit\).*RETURNING download_count`

	t.Run("ok", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs("t1").WillReturnRows(sqlmock.NewRows([]string{"download_count"}).AddRow(4))

		n, err := repo.IncrementDownloadCount(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("limit reached", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs("t1").WillReturnError(sql.ErrNoRows)

		_, err := repo.IncrementDownloadCount(context.Background(), "t1")
		assert.ErrorIs(t, err, common.ErrDownloadLimit)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectQuery(q).WithArgs("t1").WillReturnError(errors.New("boom"))

		_, err := repo.IncrementDownloadCount(context.Background(), "t1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrDownloadLimit)
	})
}

func TestToggleActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `UPDATE transfers SET is_active = NOT is_active.*WHERE id = \$1 AND sender_email = \$2`
	mock.ExpectQuery(q).WithArgs("t1", "a@x.io").WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(false))
	mock.ExpectQuery(q).WithArgs("t1", "intruder@x.io").WillReturnError(sql.ErrNoRows)

	active, err := repo.ToggleActive(context.Background(), "t1", "a@x.io")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = repo.ToggleActive(context.Background(), "t1", "intruder@x.io")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSetPassword(t *testing.T) {
	q := `UPDATE transfers SET password_hash = \$3, password_protected = \$4`
	hash := "$2a$10$new"

	t.Run("set", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WithArgs("t1", "a@x.io", &hash, true).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.SetPassword(context.Background(), "t1", "a@x.io", &hash))
	})

	t.Run("clear", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WithArgs("t1", "a@x.io", nil, false).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.SetPassword(context.Background(), "t1", "a@x.io", nil))
	})

	t.Run("not owner", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WithArgs("t1", "b@x.io", nil, false).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.SetPassword(context.Background(), "t1", "b@x.io", nil), common.ErrorNotFound)
	})

	t.Run("rows affected error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
		err := repo.SetPassword(context.Background(), "t1", "a@x.io", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rows affected error: rows-err")
	})
}

func TestMarkReady(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `UPDATE transfers SET upload_status = 'ready'`
	mock.ExpectExec(q).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("t2").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q).WithArgs("t3").WillReturnError(errors.New("db down"))

	require.NoError(t, repo.MarkReady(context.Background(), "t1"))
	assert.Contains(t, repo.MarkReady(context.Background(), "t2").Error(), "unexpected rows affected: 2")
	assert.Contains(t, repo.MarkReady(context.Background(), "t3").Error(), "db error: db down")
}
