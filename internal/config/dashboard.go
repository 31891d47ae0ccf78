package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// DashboardDatabaseSection is the section the dashboard's own wg-dashboard.ini
// keeps its database settings under. The dashboard's `ConnectionString("wgdashboard")`
// helper reads this same file and section by this same key; reading it here
// instead of keeping an independent copy of the credentials is what keeps the
// daemon and the dashboard from drifting out of sync when one side's
// credentials change.
const DashboardDatabaseSection = "Database"

// DashboardDSN loads database connection settings from the dashboard's own
// wg-dashboard.ini file and renders them as a libpq connection string. This
// is the daemon's equivalent of the dashboard's ConnectionString("wgdashboard")
// call: same file, same section, same fields, so a credential rotation on
// the dashboard side is picked up here automatically on the next restart
// without any change to the daemon's own config.
//
// A missing file or an incomplete section is returned as an error, not
// silently defaulted — callers should only fall back to their own
// standalone Database config when this fails, and should log loudly when
// they do, since that means the daemon's credentials are no longer tied to
// the dashboard's.
func DashboardDSN(path string) (string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return "", fmt.Errorf("reading dashboard config %s: %w", path, err)
	}

	section, err := cfg.GetSection(DashboardDatabaseSection)
	if err != nil {
		return "", fmt.Errorf("dashboard config %s has no [%s] section: %w", path, DashboardDatabaseSection, err)
	}

	user := section.Key("username").String()
	name := section.Key("db_name").String()
	if user == "" || name == "" {
		return "", fmt.Errorf("dashboard config %s is missing username or db_name in [%s]", path, DashboardDatabaseSection)
	}

	host := section.Key("host").MustString("localhost")
	port := section.Key("port").MustInt(5432)
	password := section.Key("password").String()
	sslMode := section.Key("sslmode").MustString("disable")

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, sslMode,
	), nil
}
