package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDashboardIni(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wg-dashboard.ini")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing fixture ini: %v", err)
	}
	return path
}

func TestDashboardDSNReadsSharedCredentials(t *testing.T) {
	path := writeDashboardIni(t, `
[Database]
host = dash-db.internal
port = 6543
username = dash_user
password = dash_pass
db_name = wgdashboard
sslmode = require
`)

	dsn, err := DashboardDSN(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "host=dash-db.internal port=6543 user=dash_user password=dash_pass dbname=wgdashboard sslmode=require"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestDashboardDSNAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeDashboardIni(t, `
[Database]
username = dash_user
db_name = wgdashboard
`)

	dsn, err := DashboardDSN(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "host=localhost port=5432 user=dash_user password= dbname=wgdashboard sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestDashboardDSNErrorsOnMissingFile(t *testing.T) {
	if _, err := DashboardDSN(filepath.Join(t.TempDir(), "does-not-exist.ini")); err == nil {
		t.Fatalf("expected an error for a missing dashboard config file")
	}
}

func TestDashboardDSNErrorsOnMissingSection(t *testing.T) {
	path := writeDashboardIni(t, `
[Server]
app_ip = 0.0.0.0
`)
	if _, err := DashboardDSN(path); err == nil {
		t.Fatalf("expected an error for a dashboard config with no [Database] section")
	}
}

func TestDashboardDSNErrorsOnMissingCredentials(t *testing.T) {
	path := writeDashboardIni(t, `
[Database]
host = localhost
`)
	if _, err := DashboardDSN(path); err == nil {
		t.Fatalf("expected an error when username/db_name are absent")
	}
}

func TestDatabaseConfigFallsBackToStandaloneFieldsWithoutDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "fallback_user",
		Password: "fallback_pass",
		Database: "fallback_db",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=fallback_user password=fallback_pass dbname=fallback_db sslmode=disable"
	if got := d.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestDatabaseConfigApplyDSNOverridesStandaloneFields(t *testing.T) {
	d := DatabaseConfig{Host: "ignored", Database: "ignored"}
	d.ApplyDSN("host=shared port=5432 user=shared_user password=shared_pass dbname=wgdashboard sslmode=disable")
	want := "host=shared port=5432 user=shared_user password=shared_pass dbname=wgdashboard sslmode=disable"
	if got := d.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
