package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "native no params",
			cfg:  ClientConfig{Host: "ch", Port: 9000, Database: "gridvol", User: "u", Password: "p"},
			want: "clickhouse://u:p@ch:9000/gridvol",
		},
		{
			name: "http with timeouts",
			cfg: ClientConfig{Host: "ch", Port: 8123, Database: "gridvol", UseHTTP: true,
				DialTimeout: 5 * time.Second, ReadTimeout: 10 * time.Second},
			want: "http://:@ch:8123/gridvol?dial_timeout=5s&read_timeout=10s",
		},
		{
			name: "async insert",
			cfg: ClientConfig{Host: "ch", Port: 9000, Database: "d",
				MaxExecTime: time.Minute, AsyncInsert: true, WaitForAsync: true},
			want: "clickhouse://:@ch:9000/d?max_execution_time=60&async_insert=1&wait_for_async_insert=1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildDSN(tc.cfg))
		})
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmts := Schema()
	for range stmts {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, NewFromDB(db).InitSchema(context.Background(), stmts))
	assert.NoError(t, mock.ExpectationsWereMet())
}
