package dialect

import "fmt"

// Now returns the SQL expression for the current timestamp.
//
//	SQLite:   datetime('now')
//	Postgres: NOW()
func Now(driver string) string {
	if IsPostgres(driver) {
		return "NOW()"
	}
	return "datetime('now')"
}

// NowMinusMinutes returns the SQL expression for "current time minus N
// minutes", where minutesExpr is a parameter placeholder (e.g., "?") for the
// number of minutes.
//
//	SQLite:   datetime('now', '-' || ? || ' minutes')
//	Postgres: NOW() - (? || ' minutes')::interval
func NowMinusMinutes(driver, minutesExpr string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("NOW() - (%s || ' minutes')::interval", minutesExpr)
	}
	return fmt.Sprintf("datetime('now', '-' || %s || ' minutes')", minutesExpr)
}

// NowMinusHours returns the SQL expression for "current time minus N hours",
// where hoursExpr is a parameter placeholder or expression producing the
// number of hours.
//
//	SQLite:   datetime('now', '-' || hoursExpr || ' hours')
//	Postgres: NOW() - (hoursExpr || ' hours')::interval
func NowMinusHours(driver, hoursExpr string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("NOW() - (%s || ' hours')::interval", hoursExpr)
	}
	return fmt.Sprintf("datetime('now', '-' || %s || ' hours')", hoursExpr)
}
