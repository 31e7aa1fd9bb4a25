package bitrix24_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bitrix24 "github.com/OlegKolesnikoff/bitrix24-api-client"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := bitrix24.NewFileStore(path)
	ctx := context.Background()

	creds := bitrix24.Credentials{
		AccessToken:    "T",
		RefreshToken:   "R",
		Domain:         "t.bx",
		ClientEndpoint: "https://t.bx/rest/",
		ExpiresIn:      3600,
	}
	require.NoError(t, store.Write(ctx, creds))

	got, err := store.Read(ctx, bitrix24.Credentials{Domain: "t.bx"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, creds, *got)

	// A second write replaces the record.
	creds.AccessToken = "T2"
	require.NoError(t, store.Write(ctx, creds))
	got, err = store.Read(ctx, bitrix24.Credentials{Domain: "t.bx"})
	require.NoError(t, err)
	assert.Equal(t, "T2", got.AccessToken)
}

func TestFileStoreMissingFile(t *testing.T) {
	store := bitrix24.NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	got, err := store.Read(context.Background(), bitrix24.Credentials{Domain: "t.bx"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := bitrix24.NewFileStore(path)
	_, err := store.Read(context.Background(), bitrix24.Credentials{Domain: "t.bx"})
	require.Error(t, err)
}
