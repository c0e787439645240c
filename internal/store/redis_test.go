package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreSetNX(t *testing.T) {
	client, mock := redismock.NewClientMock()
	st := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectSetNX("lock:showtime:1", "token", 30*time.Second).SetVal(true)
	ok, err := st.SetNX(ctx, "lock:showtime:1", "token", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("lock:showtime:1", "other", 30*time.Second).SetVal(false)
	ok, err = st.SetNX(ctx, "lock:showtime:1", "other", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetMapsNilToNotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	st := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectGet("seat:1:A1").RedisNil()
	_, err := st.Get(ctx, "seat:1:A1")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectGet("seat:1:A2").SetVal("42")
	v, err := st.Get(ctx, "seat:1:A2")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetSurfacesErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	st := NewRedisStore(client)

	mock.ExpectGet("k").SetErr(errors.New("connection reset"))
	_, err := st.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "transport errors are not a miss")
}

func TestRedisStoreDelBatches(t *testing.T) {
	client, mock := redismock.NewClientMock()
	st := NewRedisStore(client)

	mock.ExpectDel("seat:1:A1", "seat:1:A2").SetVal(2)
	require.NoError(t, st.Del(context.Background(), "seat:1:A1", "seat:1:A2"))

	// empty key list is a no-op without touching the server
	require.NoError(t, st.Del(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}
