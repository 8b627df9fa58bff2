// Package domain holds the core model types, wire messages, and error
// taxonomy shared by the gateway, validator, registry, and dispatcher.
// It has no dependencies on any other internal package.
package domain
