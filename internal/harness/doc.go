// Package harness runs YAML scenarios against repositories backed by a
// fresh in-memory SQLite database.
//
// A scenario declares its entities in CUE, prepares tables and seed rows
// with SQL, then drives repositories step by step:
//
//	name: stop_on_first_fail
//	description: a failing update rolls back the whole batch
//	schema: |
//	  entity: User: {
//	    table: "users"
//	    primary_key: ["id"]
//	    columns: { id: int, email: string }
//	  }
//	setup:
//	  - CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT CHECK (email <> 'bad'),
//	      created_on TEXT DEFAULT (NOW()), updated_on TEXT, deleted_on TEXT)
//	  - INSERT INTO users (id, email) VALUES (1, 'a@x.com'), (2, 'b@x.com')
//	steps:
//	  - {op: find_pk, entity: User, key: [1], as: u1}
//	  - {op: set, ref: u1, values: {email: bad}}
//	  - op: flush_updates
//	    entity: User
//	    expect: {outcome: aborted, failed: [u1]}
//
// Every step's outcome is checked against its expect clause; a step without
// one must succeed. NOW() follows a deterministic clock and flush IDs are
// sequential, so the step trace and statement log of a run are stable and
// can be compared against golden files.
package harness
