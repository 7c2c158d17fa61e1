package tuplestore

const (
	FunctionStatsColumns = 4
	RelationStatsColumns = 21
)

// FunctionStatsDescriptor is the row type of the function statistics set.
var FunctionStatsDescriptor = &Descriptor{
	Name:      "powa_stat_user_functions",
	Composite: true,
	Columns: []Column{
		{Name: "funcid", Type: TypeOid},
		{Name: "calls", Type: TypeBigint},
		{Name: "total_time", Type: TypeDouble},
		{Name: "self_time", Type: TypeDouble},
	},
}

// RelationStatsDescriptor is the row type of the relation statistics set.
var RelationStatsDescriptor = &Descriptor{
	Name:      "powa_stat_all_rel",
	Composite: true,
	Columns: []Column{
		{Name: "relid", Type: TypeOid},
		{Name: "numscan", Type: TypeBigint},
		{Name: "tup_returned", Type: TypeBigint},
		{Name: "tup_fetched", Type: TypeBigint},
		{Name: "n_tup_ins", Type: TypeBigint},
		{Name: "n_tup_upd", Type: TypeBigint},
		{Name: "n_tup_del", Type: TypeBigint},
		{Name: "n_tup_hot_upd", Type: TypeBigint},
		{Name: "n_liv_tup", Type: TypeBigint},
		{Name: "n_dead_tup", Type: TypeBigint},
		{Name: "n_mod_since_analyze", Type: TypeBigint},
		{Name: "blks_read", Type: TypeBigint},
		{Name: "blks_hit", Type: TypeBigint},
		{Name: "last_vacuum", Type: TypeTimestampTz, Nullable: true},
		{Name: "vacuum_count", Type: TypeBigint},
		{Name: "last_autovacuum", Type: TypeTimestampTz, Nullable: true},
		{Name: "autovacuum_count", Type: TypeBigint},
		{Name: "last_analyze", Type: TypeTimestampTz, Nullable: true},
		{Name: "analyze_count", Type: TypeBigint},
		{Name: "last_autoanalyze", Type: TypeTimestampTz, Nullable: true},
		{Name: "autoanalyze_count", Type: TypeBigint},
	},
}
