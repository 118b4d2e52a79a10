// Package storage implements the vault's relational store on an in-memory
// SQLite database: targets, their credential history, and per-credential
// attributes, plus snapshot/restore primitives for serialization.
package storage
