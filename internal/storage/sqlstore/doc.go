// Package sqlstore opens the relational database behind the persisted switch
// history and applies the embedded schema migrations.
package sqlstore
