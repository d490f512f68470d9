package phase

// Markers are the literal substrings the gates look for.
type Markers struct {
	Unsafe   string
	Critical string
	Failed   string
}

// DefaultMarkers returns the markers the SQL workload prints.
func DefaultMarkers() Markers {
	return Markers{
		Unsafe:   "❌ UNSAFE",
		Critical: "❌ CRITICAL",
		Failed:   "❌ FAILED",
	}
}

// DefaultPlan returns the streaming INSERT pipeline: setup, phase 1 without indexes,
// phase 2 with indexes.
func DefaultPlan(m Markers) *Plan {
	unsafe := func() *Gate {
		return &Gate{
			Marker:    m.Unsafe,
			Severity:  SeverityWarning,
			PassNote:  "All proposed bloom filter columns passed validation",
			MatchNote: "columns marked UNSAFE for bloom filters; they will be EXCLUDED from the configuration",
		}
	}
	critical := func() *Gate {
		return &Gate{
			Marker:    m.Critical,
			Severity:  SeverityFatal,
			PassNote:  "Clustering overhead is acceptable",
			MatchNote: "CRITICAL STORAGE BLOAT DETECTED after clustering",
		}
	}
	failed := func(pass string) *Gate {
		return &Gate{
			Marker:    m.Failed,
			Severity:  SeverityFatal,
			PassNote:  pass,
			MatchNote: "validation checks FAILED",
		}
	}

	return &Plan{
		Setup: []Step{
			{Phase: Phase{ID: "0", Name: "Validation Framework Setup", Script: "00_validation_framework.sql", LogFile: "00_validation_framework.log"}},
			{Phase: Phase{ID: "1", Name: "CDR Schema Setup (10K cell towers)", Script: "01_setup_schema.sql", LogFile: "01_setup_schema.log"}},
			{Phase: Phase{ID: "2", Name: "Cardinality Analysis", Script: "02_analyze_cardinality.sql", LogFile: "02_cardinality_analysis.txt"}, Gate: unsafe()},
			{Phase: Phase{ID: "3", Name: "Auto-Generate Safe Configuration", Script: "03_generate_config.sql", LogFile: "03_generated_config.sql"}},
			{Phase: Phase{ID: "4", Name: "Create Storage Variants (AO/AOCO/PAX/PAX-no-cluster)", Script: "04_create_variants.sql", LogFile: "04_create_variants.log"}},
		},
		Phase1: []Step{
			{Phase: Phase{ID: "6a", Name: "Streaming INSERTs - Phase 1 (NO INDEXES)", Script: "06_streaming_inserts_noindex.sql", LogFile: "06_streaming_phase1.log", Monitor: true}},
			{Phase: Phase{ID: "8", Name: "PAX Z-order Clustering", Script: "08_optimize_pax.sql", LogFile: "08_optimize_pax.log"}, Gate: critical()},
			{Phase: Phase{ID: "9", Name: "Query Performance Tests (after Phase 1)", Script: "09_run_queries.sql", LogFile: "09_queries_phase1.log"}},
			{Phase: Phase{ID: "10a", Name: "Collect Metrics - Phase 1", Script: "10_collect_metrics.sql", LogFile: "10_metrics_phase1.txt"}},
			{Phase: Phase{ID: "11a", Name: "Validate Results - Phase 1", Script: "11_validate_results.sql", LogFile: "11_validation_phase1.txt"}, Gate: failed("All validation gates passed for Phase 1")},
		},
		Phase2: []Step{
			{Phase: Phase{ID: "4b", Name: "Recreate Tables for Phase 2", Script: "04_create_variants.sql", LogFile: "04b_create_variants_phase2.log"}},
			{Phase: Phase{ID: "5", Name: "Create Indexes (5 per variant, 20 total)", Script: "05_create_indexes.sql", LogFile: "05_create_indexes.log"}},
			{Phase: Phase{ID: "6b", Name: "Streaming INSERTs - Phase 2 (WITH INDEXES)", Script: "07_streaming_inserts_withindex.sql", LogFile: "07_streaming_phase2.log", Monitor: true}},
			{Phase: Phase{ID: "8b", Name: "PAX Z-order Clustering (Phase 2)", Script: "08_optimize_pax.sql", LogFile: "08b_optimize_pax_phase2.log"}, Gate: critical()},
			{Phase: Phase{ID: "9b", Name: "Query Performance Tests (after Phase 2)", Script: "09_run_queries.sql", LogFile: "09b_queries_phase2.log"}},
			{Phase: Phase{ID: "10b", Name: "Collect Metrics - Phase 2 (includes comparison)", Script: "10_collect_metrics.sql", LogFile: "10_metrics_phase2.txt"}},
			{Phase: Phase{ID: "11b", Name: "Validate Results - Phase 2", Script: "11_validate_results.sql", LogFile: "11_validation_phase2.txt"}, Gate: failed("All validation gates passed for Phase 2")},
		},
	}
}
