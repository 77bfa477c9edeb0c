// Package variants merges externally maintained variant tables and resolves
// a variant code (parcode) to the calibration dataset it selects.
//
// Merging is strict: a key present in more than one table is an error rather
// than a silent overwrite. The resolver performs no I/O and no prompting;
// loading tables from spreadsheets or config files is the job of a Source.
package variants
