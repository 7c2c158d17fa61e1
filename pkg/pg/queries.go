package pg

const TakeSnapshotQuery = `
/*powa*/
SELECT powa_take_snapshot();
`

const SetApplicationNameQuery = `
/*powa*/
SELECT set_config('application_name', $1, false);
`

// SetSnapshotSettingsQuery exposes the powa.* settings to the snapshot
// function for the current transaction only.
const SetSnapshotSettingsQuery = `
/*powa*/
SELECT set_config('powa.coalesce', $1, true),
	set_config('powa.retention', $2, true),
	set_config('powa.ignored_users', $3, true);
`

const Select1Query = `
/*powa*/
SELECT 1;
`

// SnapshotFunctionExistsQuery checks that the powa extension is installed in
// the connected database.
const SnapshotFunctionExistsQuery = `
/*powa*/
SELECT to_regproc('powa_take_snapshot') IS NOT NULL;
`

const CurrentDatabaseOidQuery = `
/*powa*/
SELECT oid FROM pg_database WHERE datname = current_database();
`

const DatabaseNameQuery = `
/*powa*/
SELECT datname, datallowconn FROM pg_database WHERE oid = $1;
`

const ServerVersionNumQuery = `
/*powa*/
SELECT current_setting('server_version_num')::int;
`

const relationStatsColumns = `
/*powa*/
SELECT c.oid,
	pg_stat_get_numscans(c.oid),
	pg_stat_get_tuples_returned(c.oid),
	pg_stat_get_tuples_fetched(c.oid),
	pg_stat_get_tuples_inserted(c.oid),
	pg_stat_get_tuples_updated(c.oid),
	pg_stat_get_tuples_deleted(c.oid),
	pg_stat_get_tuples_hot_updated(c.oid),
	pg_stat_get_live_tuples(c.oid),
	pg_stat_get_dead_tuples(c.oid),
	pg_stat_get_mod_since_analyze(c.oid),
	pg_stat_get_blocks_fetched(c.oid),
	pg_stat_get_blocks_hit(c.oid),
	pg_stat_get_last_vacuum_time(c.oid),
	pg_stat_get_vacuum_count(c.oid),
	pg_stat_get_last_autovacuum_time(c.oid),
	pg_stat_get_autovacuum_count(c.oid),
	pg_stat_get_last_analyze_time(c.oid),
	pg_stat_get_analyze_count(c.oid),
	pg_stat_get_last_autoanalyze_time(c.oid),
	pg_stat_get_autoanalyze_count(c.oid)
FROM pg_class c
WHERE c.relkind IN ('r', 'i', 't', 'm', 'p', 'I')`

// RelationStatsQuery reads the cumulative counters of every table, index,
// toast table and materialized view of the connected database that has a
// statistics entry. Shared catalogs are left out, their entry belongs to no
// database. Needs PostgreSQL 15 or later.
const RelationStatsQuery = relationStatsColumns + `
	AND pg_stat_have_stats('relation',
		(SELECT oid FROM pg_database WHERE datname = current_database()), c.oid);
`

// LegacyRelationStatsQuery is RelationStatsQuery for servers older than 15,
// which cannot tell a missing entry from zero counters. Relations without
// activity come back with zero counters.
const LegacyRelationStatsQuery = relationStatsColumns + `
	AND NOT c.relisshared;
`

// MinHaveStatsVersionNum is the first server_version_num with pg_stat_have_stats.
const MinHaveStatsVersionNum = 150000

// FunctionStatsQuery reads the tracked functions of the connected database.
// Times are in milliseconds.
const FunctionStatsQuery = `
/*powa*/
SELECT funcid, calls, total_time, self_time
FROM pg_stat_user_functions;
`
