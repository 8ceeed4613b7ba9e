package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qepo_backend/internal/model"
)

const testUserID = "5f0c7a8e-4c1b-4b5e-9a57-2f6d5c3e9b10"

var profileRowColumns = []string{"user_id", "email", "username", "bio", "profile_picture_url", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (ProfileRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewProfileRepository(sqlx.NewDb(db, "postgres")), mock
}

func strPtr(s string) *string { return &s }

func TestProfileRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WithArgs(testUserID, "a@b.com", "a_1f2e", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	p := &model.Profile{UserID: testUserID, Email: "a@b.com", Username: "a_1f2e"}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.True(t, now.Equal(p.CreatedAt))
}

func TestProfileRepository_Create_UniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantErr    error
	}{
		{name: "username", constraint: "profiles_username_key", wantErr: model.ErrUsernameTaken},
		{name: "primary key", constraint: "profiles_pkey", wantErr: model.ErrProfileExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
				WillReturnError(&pq.Error{Code: "23505", Constraint: tt.constraint})
			mock.ExpectRollback()

			err := repo.Create(context.Background(), &model.Profile{UserID: testUserID, Email: "a@b.com", Username: "bob"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProfileRepository_Create_CommitFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), &model.Profile{UserID: testUserID, Email: "a@b.com", Username: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit profile tx")
}

func TestProfileRepository_FindByUsername(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE username = $1")).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow(testUserID, "bob@x.com", "bob", nil, nil, now, now))

	p, err := repo.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, testUserID, p.UserID)
	assert.Nil(t, p.Bio)

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE username = $1")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(profileRowColumns))

	_, err = repo.FindByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, model.ErrProfileNotFound)
}

func TestProfileRepository_Update_OnlyGivenFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE profiles SET username = $1, bio = NULLIF($2, ''), updated_at = NOW() WHERE user_id = $3 RETURNING "+profileColumns)).
		WithArgs("bob", "", testUserID).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow(testUserID, "a@b.com", "bob", nil, nil, now, now))

	p, err := repo.Update(context.Background(), testUserID, model.ProfileUpdate{Username: strPtr("bob"), Bio: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Username)
	assert.Nil(t, p.Bio)
}

func TestProfileRepository_Update_UsernameTaken(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET username = $1")).
		WithArgs("bob", testUserID).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "profiles_username_key"})

	_, err := repo.Update(context.Background(), testUserID, model.ProfileUpdate{Username: strPtr("bob")})
	assert.ErrorIs(t, err, model.ErrUsernameTaken)
}

func TestProfileRepository_Update_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET bio")).
		WillReturnRows(sqlmock.NewRows(profileRowColumns))

	_, err := repo.Update(context.Background(), testUserID, model.ProfileUpdate{Bio: strPtr("hi")})
	assert.ErrorIs(t, err, model.ErrProfileNotFound)
}

func TestProfileRepository_SetProfilePictureURL(t *testing.T) {
	repo, mock := newMockRepo(t)
	url := "https://cdn.example.com/profile-pictures/avatar-1.jpeg?t=1700000000000"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET profile_picture_url = $1")).
		WithArgs(url, testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetProfilePictureURL(context.Background(), testUserID, url))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET profile_picture_url = $1")).
		WithArgs(url, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetProfilePictureURL(context.Background(), "missing", url), model.ErrProfileNotFound)
}

func TestProfileRepository_Exists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, ok)
}
