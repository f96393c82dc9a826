// Package domain holds the core model types, repository contracts, and
// sentinel errors of the identity authority. It has no dependencies on
// storage backends or transport; adapters implement its interfaces.
package domain
