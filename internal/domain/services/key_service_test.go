package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/capn/internal/domain-adapters/inmemory"
	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

const roster = "FPALICE,Alice,alice@example.com\nFPBOB,Bob,bob@example.com\nFPCAROL,Carol,carol@example.com\n"

func TestKeyService_FetchMissingKeys_Batch(t *testing.T) {
	server := inmemory.NewKeyServer()
	svc := NewKeyService(server, KeyFetchOptions{}, &interfaces.NoOpLogger{})
	keyring := entities.ParseKeyring(roster)
	keyring.MarkAvailable([]string{"bob@example.com"})

	err := svc.FetchMissingKeys(context.Background(), keyring,
		[]string{"alice@example.com", "bob@example.com", "mallory@example.com"})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"FPALICE"}}, server.Batches())
	assert.False(t, keyring.RequiresPublicKeyDownload("alice@example.com"))
	assert.True(t, keyring.RequiresPublicKeyDownload("carol@example.com"))
}

func TestKeyService_FetchMissingKeys_NothingToFetch(t *testing.T) {
	server := inmemory.NewKeyServer()
	svc := NewKeyService(server, KeyFetchOptions{}, &interfaces.NoOpLogger{})

	err := svc.FetchMissingKeys(context.Background(), entities.ParseKeyring(roster), []string{"mallory@example.com"})
	require.NoError(t, err)
	assert.Empty(t, server.Batches())
}

func TestKeyService_FetchMissingKeys_Parallel(t *testing.T) {
	server := inmemory.NewKeyServer()
	svc := NewKeyService(server, KeyFetchOptions{Parallel: true, MaxParallelism: 2}, &interfaces.NoOpLogger{})
	keyring := entities.ParseKeyring(roster)

	err := svc.FetchMissingKeys(context.Background(), keyring,
		[]string{"alice@example.com", "bob@example.com", "carol@example.com"})
	require.NoError(t, err)

	assert.Equal(t, []string{"FPALICE", "FPBOB", "FPCAROL"}, server.Received())
	assert.Empty(t, server.Batches())
	assert.False(t, keyring.RequiresPublicKeyDownload("carol@example.com"))
}

func TestKeyService_FetchMissingKeys_ParallelFailureMarksNothing(t *testing.T) {
	server := inmemory.NewKeyServer("FPBOB")
	svc := NewKeyService(server, KeyFetchOptions{Parallel: true, MaxParallelism: 4}, &interfaces.NoOpLogger{})
	keyring := entities.ParseKeyring(roster)

	err := svc.FetchMissingKeys(context.Background(), keyring,
		[]string{"alice@example.com", "bob@example.com", "carol@example.com"})
	require.ErrorIs(t, err, ErrKeyFetchFailed)

	// every fingerprint was still attempted
	assert.Equal(t, []string{"FPALICE", "FPCAROL"}, server.Received())
	assert.True(t, keyring.RequiresPublicKeyDownload("alice@example.com"))
	assert.True(t, keyring.RequiresPublicKeyDownload("bob@example.com"))
}

func TestKeyService_FetchMissingKeys_BatchFailure(t *testing.T) {
	server := inmemory.NewKeyServer("FPALICE")
	svc := NewKeyService(server, KeyFetchOptions{}, &interfaces.NoOpLogger{})
	keyring := entities.ParseKeyring(roster)

	err := svc.FetchMissingKeys(context.Background(), keyring, []string{"alice@example.com"})
	require.Error(t, err)
	assert.True(t, keyring.RequiresPublicKeyDownload("alice@example.com"))
}

func TestKeyService_FetchMissingKeys_Skip(t *testing.T) {
	server := inmemory.NewKeyServer()
	svc := NewKeyService(server, KeyFetchOptions{Skip: true}, &interfaces.NoOpLogger{})
	keyring := entities.ParseKeyring(roster)

	err := svc.FetchMissingKeys(context.Background(), keyring, []string{"alice@example.com"})
	require.NoError(t, err)

	assert.Empty(t, server.Batches())
	assert.Empty(t, server.Received())
	assert.False(t, keyring.RequiresPublicKeyDownload("alice@example.com"))
}
