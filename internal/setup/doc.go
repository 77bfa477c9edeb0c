// Package setup holds the default locations used by ecuflash and the
// helpers that create or verify them.
//
// This package is a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
