package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/tiltcheck/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s := NewPostgresStore(testutil.Postgres(t))
		require.NoError(t, s.Ping(context.Background()))
		return s
	})
}
