// Package provision sequences a firmware provisioning run: artifact
// discovery, variant resolution, the probe session and the optional
// telemetry bracket around the download. Every outcome, including the
// failures, is reported as a Result.
package provision
