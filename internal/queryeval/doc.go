// Package queryeval evaluates queryir condition trees against in-memory
// records.
//
// It is the second interpreter of the tree querysql compiles, and the two
// must agree on every record: the repository uses it to decide which local
// entities a query matches before asking the backing store for the rest.
package queryeval
