package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ocs/internal/activity"
	"github.com/rakunlabs/ocs/internal/cli"
	"github.com/rakunlabs/ocs/internal/config"
	"github.com/rakunlabs/ocs/internal/pipeline"
	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

func newTestApp(t *testing.T) *cli.App {
	t.Helper()

	cfg := &config.Store{
		Datasource: t.TempDir() + "/httpapi_test.db",
		Migrate:    config.Migrate{Table: "schema_migrations", Values: map[string]string{}},
	}

	db, err := sqlite3.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	activities := activity.New(db)

	return &cli.App{
		Activities: activities,
		Pipelines:  pipeline.New(db, activities, false),
		Out:        &bytes.Buffer{},
	}
}

func TestStatusForExitCode(t *testing.T) {
	require.Equal(t, http.StatusOK, statusForExitCode(cli.ExitOK))
	require.Equal(t, http.StatusBadRequest, statusForExitCode(cli.ExitValidation))
	require.Equal(t, http.StatusUnauthorized, statusForExitCode(cli.ExitMissingCredential))
	require.Equal(t, http.StatusBadGateway, statusForExitCode(cli.ExitProviderFailure))
	require.Equal(t, http.StatusInternalServerError, statusForExitCode(99))
}

func TestRunCommandMirrorsDispatch(t *testing.T) {
	app := newTestApp(t)
	s, err := New(config.Server{}, app)
	require.NoError(t, err)

	body, _ := json.Marshal(commandRequest{Args: []string{"pipeline", "create", "--title", "Ship it", "--type", "feature"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cli", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.runCommand(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Ship it")
}

func TestRunCommandEmptyArgsIsBadRequest(t *testing.T) {
	app := newTestApp(t)
	s, err := New(config.Server{}, app)
	require.NoError(t, err)

	body, _ := json.Marshal(commandRequest{Args: nil})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cli", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.runCommand(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	s, err := New(config.Server{}, app)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	rec := httptest.NewRecorder()

	s.healthz(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
