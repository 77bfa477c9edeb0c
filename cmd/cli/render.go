package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/provision"
)

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func renderResult(w io.Writer, format string, result provision.Result) error {
	if format == "json" {
		return writeJSON(w, result)
	}

	status := "SUCCEEDED"
	if !result.Succeeded() {
		status = "FAILED"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", result.RunID)
	fmt.Fprintf(tw, "status\t%s\n", status)
	fmt.Fprintf(tw, "build\t%s\n", result.Request.Coordinate)
	fmt.Fprintf(tw, "variant\t%s\n", result.Request.VariantKey)
	fmt.Fprintf(tw, "dataset\t%s\n", orDash(result.DatasetID))
	fmt.Fprintf(tw, "firmware\t%s\n", orDash(result.FirmwarePath))
	fmt.Fprintf(tw, "symbols\t%s\n", orDash(result.SymbolPath))
	if result.Request.Telemetry {
		fmt.Fprintf(tw, "telemetry\tcaptured=%t\n", result.TelemetryCaptured)
	}
	fmt.Fprintf(tw, "duration\t%s\n", result.Duration().Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(result.Records) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tSTEP\tCODE\tMESSAGE")
	for _, record := range result.Records {
		code := string(record.Code)
		if record.Cause != "" {
			code += "(" + string(record.Cause) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", record.Severity, record.Step, code, record.Message)
	}
	return tw.Flush()
}

func renderVariants(w io.Writer, format string, list []provision.Variant) error {
	if format == "json" {
		return writeJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tVARIANT\tDATASET\tSOURCE")
	for i, v := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, v.Key, v.Dataset, filepath.Base(v.Source))
	}
	return tw.Flush()
}

func renderArtifacts(w io.Writer, format string, firmware, symbols artifacts.Set) error {
	if format == "json" {
		return writeJSON(w, map[string][]string{
			string(artifacts.Firmware):    firmware.Matches,
			string(artifacts.SymbolTable): symbols.Matches,
		})
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\t#\tPATH")
	for _, set := range []artifacts.Set{firmware, symbols} {
		for i, path := range set.Matches {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", set.Kind, i, path)
		}
	}
	return tw.Flush()
}

func renderRuns(w io.Writer, format string, results []provision.Result) error {
	if format == "json" {
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tBUILD\tVARIANT\tSTATUS")
	for _, result := range results {
		status := "ok"
		if fatal, ok := result.Fatal(); ok {
			status = string(fatal.Code)
		} else if !result.Succeeded() {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(result.RunID),
			result.StartedAt.Local().Format(time.DateTime),
			result.Request.Coordinate,
			result.Request.VariantKey,
			status,
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
