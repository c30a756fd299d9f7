// Package compiler turns CUE entity definitions into model descriptors.
//
// A schema file declares entities under the top-level "entity" struct:
//
//	entity: Membership: {
//	  table:         "memberships"
//	  primary_key:   ["org", "user_id"]
//	  key_separator: "-"
//	  protected:     ["role"]
//	  columns: {
//	    org:     string
//	    user_id: int
//	    role:    string
//	  }
//	}
//
// Compile reports the first structural problem as a *CompileError with its
// CUE position. Validate then checks the compiled set as a whole and
// returns every problem it finds.
package compiler
