package testutil

import (
	"cuelang.org/go/cue/cuecontext"

	"github.com/mrk-andreev/chprobe/internal/constraints"
)

// ReferenceProfileSource is the constraints profile of the reference users
// configuration: bounds and disallowed values on max_memory_usage, const
// settings with an alias, a merge tree setting and two locked users.
const ReferenceProfileSource = `
settings: {
	force_index_by_date: {default: 0, const: true}
	max_memory_usage: {
		default:    10000000000
		min:        5000000000
		max:        20000000000
		disallowed: [6000000000, 6000000001]
	}
	readonly: default: 0
	allow_ddl: default: 1
	alter_sync: {
		default: 2
		const:   true
		aliases: ["replication_alter_partitions_sync"]
	}
	max_parts_in_total: {
		table:      "merge_tree"
		default:    100000
		disallowed: [5000]
	}
}

users: {
	readonly_user: locked: ["readonly"]
	no_dll_user: locked: ["allow_ddl"]
}
`

// ReferenceProfile compiles ReferenceProfileSource. It panics on error.
func ReferenceProfile() *constraints.Profile {
	p, err := constraints.CompileProfile(cuecontext.New().CompileString(ReferenceProfileSource))
	if err != nil {
		panic(err)
	}
	return p
}

// NewReferenceServer returns a FakeServer enforcing ReferenceProfile.
func NewReferenceServer() *FakeServer {
	return NewFakeServer(ReferenceProfile())
}
