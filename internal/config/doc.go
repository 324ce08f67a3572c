// Package config loads lab settings from a directory of CUE files.
//
// Files are unified with the embedded #Settings schema, so missing and
// mistyped fields are reported with their CUE position before anything
// touches hardware. The loaded Settings still carry every polarity; call
// Engine to resolve one polarity into controller settings.
package config
