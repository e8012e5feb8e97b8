package audit

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewStoreWithDB(db)
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Save(CheckEvent{AccountID: 7, Claim: "svc:*:*:read", Allowed: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSaveNilDB(t *testing.T) {
	store := &Store{}
	require.NoError(t, store.Save(CheckEvent{AccountID: 1, Claim: "svc:*:*:read", Allowed: false}))
}

func TestNewStoreWithoutURL(t *testing.T) {
	t.Setenv("AUDIT_DATABASE_URL", "")
	store, err := NewStore()
	require.NoError(t, err)
	require.Nil(t, store)
}
