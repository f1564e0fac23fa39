package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/petstock/internal/docstore/memory"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/sync"
)

type cliEnv struct {
	t          *testing.T
	configPath string
	store      *memory.Store
}

// newCLIEnv writes a config file pointing at a temp data directory. Every
// run shares one in-memory remote store.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "petstock.yaml")
	config := "data_dir: " + filepath.Join(dir, "data") + "\nuser_id: u1\nlog_level: WARN\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return &cliEnv{t: t, configPath: configPath, store: memory.New()}
}

func (e *cliEnv) run(args ...string) (string, string, int) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	opts := &RootOptions{store: e.store}
	code := execute("test", opts, append([]string{"--config", e.configPath}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (e *cliEnv) runJSON(out interface{}, args ...string) CLIResponse {
	e.t.Helper()
	stdout, stderr, code := e.run(append(args, "--format", "json")...)
	require.Equal(e.t, ExitSuccess, code, "stderr: %s", stderr)

	var resp CLIResponse
	if out != nil {
		resp.Data = out
	}
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &resp), stdout)
	return resp
}

// ===== Root =====

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	require.NotNil(t, cmd)
	assert.Equal(t, "petstock", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	commands := [][]string{
		{"product", "add"},
		{"product", "edit"},
		{"product", "delete"},
		{"product", "list"},
		{"movements"},
		{"appointment", "create"},
		{"appointment", "update"},
		{"appointment", "cancel"},
		{"appointment", "list"},
		{"appointment", "specialists"},
		{"appointment", "pets"},
		{"sync"},
		{"status"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	offline := cmd.PersistentFlags().Lookup("offline")
	require.NotNil(t, offline)
	assert.Equal(t, "false", offline.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, stderr, code := env.run("product", "list", "--format", "yaml")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute("test", &RootOptions{}, []string{"--config", "/does/not/exist.yaml", "status"}, &stdout, &stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "CONFIG_INVALID")
}

// ===== Products =====

func TestProductAddAndList(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, code := env.run("product", "add", "--code", "T-01", "--name", "Tornillo", "--quantity", "10", "--min-stock", "2")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Added Tornillo (T-01), quantity 10")

	_, ok := env.store.Get(models.CollectionProducts, "T-01")
	assert.True(t, ok, "online add writes through")

	var products []models.Product
	env.runJSON(&products, "product", "list")
	require.Len(t, products, 1)
	assert.Equal(t, "T-01", products[0].Code)
	assert.Equal(t, 10, products[0].Quantity)
}

func TestProductAdd_MissingName(t *testing.T) {
	env := newCLIEnv(t)
	_, stderr, code := env.run("product", "add", "--code", "T-01")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "name")
}

func TestProductEdit_NotFound(t *testing.T) {
	env := newCLIEnv(t)
	_, stderr, code := env.run("product", "edit", "NOPE", "--quantity", "3")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "PRODUCT_NOT_FOUND")
}

func TestProductList_LowStock(t *testing.T) {
	env := newCLIEnv(t)
	_, _, code := env.run("product", "add", "--code", "A", "--name", "Alpiste", "--quantity", "1", "--min-stock", "5")
	require.Equal(t, ExitSuccess, code)
	_, _, code = env.run("product", "add", "--code", "B", "--name", "Bozal", "--quantity", "9", "--min-stock", "2")
	require.Equal(t, ExitSuccess, code)

	var products []models.Product
	env.runJSON(&products, "product", "list", "--low")
	require.Len(t, products, 1)
	assert.Equal(t, "A", products[0].Code)
}

func TestMovements(t *testing.T) {
	env := newCLIEnv(t)
	_, _, code := env.run("product", "add", "--code", "T-01", "--name", "Tornillo", "--quantity", "10")
	require.Equal(t, ExitSuccess, code)
	_, _, code = env.run("product", "edit", "T-01", "--quantity", "4")
	require.Equal(t, ExitSuccess, code)

	var movements []models.Movement
	env.runJSON(&movements, "movements")
	require.Len(t, movements, 2)
	assert.Equal(t, models.MovementOut, movements[0].Type)
	assert.Equal(t, 6, movements[0].Quantity)
	assert.Equal(t, models.MovementIn, movements[1].Type)

	movements = nil
	env.runJSON(&movements, "movements", "--limit", "1")
	assert.Len(t, movements, 1)
}

// ===== Offline and sync =====

func TestOfflineThenSync(t *testing.T) {
	env := newCLIEnv(t)

	_, _, code := env.run("--offline", "product", "add", "--code", "T-01", "--name", "Tornillo", "--quantity", "10")
	require.Equal(t, ExitSuccess, code)
	_, _, code = env.run("--offline", "product", "edit", "T-01", "--quantity", "4")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 0, env.store.Count(models.CollectionProducts))

	var report StatusReport
	env.runJSON(&report, "--offline", "status")
	assert.False(t, report.Scheduler.IsOnline)
	require.Len(t, report.Pending, 4)
	assert.Equal(t, models.ActionProductSet, report.Pending[0].Type)
	assert.Equal(t, models.ActionMovementAdd, report.Pending[3].Type)

	var skipped sync.SyncResult
	env.runJSON(&skipped, "--offline", "sync")
	assert.True(t, skipped.Skipped)
	assert.Equal(t, sync.SkipOffline, skipped.SkipReason)

	var result sync.SyncResult
	env.runJSON(&result, "sync")
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 0, result.Remaining)

	doc, ok := env.store.Get(models.CollectionProducts, "T-01")
	require.True(t, ok)
	assert.EqualValues(t, 4, doc["cantidad"])
	assert.Equal(t, 2, env.store.Count(models.CollectionMovements))
}

func TestSync_FailureStaysQueued(t *testing.T) {
	env := newCLIEnv(t)
	_, _, code := env.run("--offline", "product", "delete", "MISSING")
	assert.Equal(t, ExitFailure, code, "unknown product")

	_, _, code = env.run("--offline", "product", "add", "--code", "P", "--name", "Pelota", "--quantity", "0")
	require.Equal(t, ExitSuccess, code)

	env.store.FailNext(memory.OpUpsert, assert.AnError)
	stdout, _, code := env.run("sync")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "1 failed")

	var report StatusReport
	env.runJSON(&report, "status")
	require.Len(t, report.Pending, 1)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 1, report.Failures[0].Attempts)
}

func TestProductAdd_RemoteFailureWarns(t *testing.T) {
	env := newCLIEnv(t)
	env.store.FailNext(memory.OpUpsert, assert.AnError)

	stdout, stderr, code := env.run("product", "add", "--code", "T-01", "--name", "Tornillo", "--quantity", "1")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Added Tornillo")
	assert.Contains(t, stderr, "queued for the next sync")

	var report StatusReport
	env.runJSON(&report, "--offline", "status")
	assert.Len(t, report.Pending, 2)
}

// ===== Appointments =====

func TestAppointmentLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	var appt models.Appointment
	env.runJSON(&appt, "appointment", "create", "--specialist", "S1", "--pet", "P1", "--date", "2026-11-02", "--time", "10:30")
	require.NotEmpty(t, appt.ID)
	assert.False(t, appt.Offline)
	assert.Equal(t, "u1", appt.UserID)

	var list []models.Appointment
	env.runJSON(&list, "appointment", "list")
	require.Len(t, list, 1)
	assert.Equal(t, appt.ID, list[0].ID)

	var updated models.Appointment
	env.runJSON(&updated, "appointment", "update", appt.ID, "--time", "11:00")
	assert.Equal(t, "11:00", updated.Time)

	_, _, code := env.run("appointment", "cancel", appt.ID)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, 0, env.store.Count(models.CollectionAppointments))
}

func TestAppointmentCreate_Offline(t *testing.T) {
	env := newCLIEnv(t)

	var appt models.Appointment
	env.runJSON(&appt, "--offline", "appointment", "create", "--specialist", "S1", "--pet", "P1", "--date", "2026-11-02", "--time", "10:30")
	assert.True(t, appt.Offline)

	var list []models.Appointment
	env.runJSON(&list, "--offline", "appointment", "list")
	require.Len(t, list, 1)
	assert.True(t, list[0].Offline)
}

func TestAppointmentCreate_MissingFlags(t *testing.T) {
	env := newCLIEnv(t)
	_, stderr, code := env.run("appointment", "create", "--specialist", "S1")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "required")
}

// ===== Output =====

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}

func TestOutputFormatter_Error(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	f.Error(NewExitError(ExitFailure, "boom"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "COMMAND_ERROR", resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}
