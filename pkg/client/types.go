package client

import "time"

// Field types used by code generated with tdb-generate.
type (
	TdbInt           int
	TdbString        string
	TdbVector[V any] []V
	TdbFloat         float64
	TdbDate          = time.Time
	TdbBool          bool
	TdbBytes         []byte
	TdbObject        map[string]any
)
