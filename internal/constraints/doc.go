// Package constraints describes a server's settings constraints and derives
// probe cases from them.
//
// A Profile is written in CUE:
//
//	settings: {
//	    max_memory_usage: {
//	        default:    10000000000
//	        min:        5000000000
//	        max:        20000000000
//	        disallowed: [6000000000, 6000000001]
//	    }
//	    alter_sync: {default: 2, const: true, aliases: ["replication_alter_partitions_sync"]}
//	    max_parts_in_total: {table: "merge_tree", default: 100000, disallowed: [5000]}
//	}
//	users: readonly_user: locked: ["readonly"]
//
// Derive turns every testable property of a profile (defaults, bounds,
// disallowed values, const settings, per-user locks) into a named
// probe.Probe. The same constraints can be read back from a live server with
// Introspect and compared.
package constraints
