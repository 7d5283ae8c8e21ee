// Package types defines the core data types shared by the history engine
// and the tooling around it.
//
// Key types:
//   - Tier: retention policy (hour, day, month)
//   - Record: a single stored flow delta with its derived timestamp
package types
