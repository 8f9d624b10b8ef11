// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package validator parses a .nessus report artifact and classifies the
// scan's authentication status, validity, and severity histogram.
package validator

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/errors"
)

// minArtifactBytes is the floor below which a .nessus artifact is treated
// as truncated/malformed regardless of whether it happens to parse.
const minArtifactBytes = 500

// nessusReport mirrors the subset of the NessusClientData_v2 schema this
// orchestrator reads: per-host report items carrying plugin ID, severity,
// and free-text output.
type nessusReport struct {
	XMLName xml.Name         `xml:"NessusClientData_v2"`
	Report  nessusReportBody `xml:"Report"`
}

type nessusReportBody struct {
	Hosts []nessusHost `xml:"ReportHost"`
}

type nessusHost struct {
	Name  string             `xml:"name,attr"`
	Items []nessusReportItem `xml:"ReportItem"`
}

type nessusReportItem struct {
	PluginID     string `xml:"pluginID,attr"`
	Severity     string `xml:"severity,attr"`
	PluginOutput string `xml:"plugin_output"`
}

// scanInfoPluginID is Nessus's "Nessus Scan Information" plugin, whose
// plugin_output carries an explicit "Credentialed checks : yes/no/partial"
// line — the authoritative signal when present.
const scanInfoPluginID = "19506"

// authSuccessFallbackThreshold is the minimum number of auth-success-only
// plugin hits that attest a credentialed scan worked, when plugin 19506's
// own output doesn't state credential status explicitly.
const authSuccessFallbackThreshold = 5

// authSuccessPluginIDs are well-known plugins that can only fire when
// credentials were accepted and local checks ran, used as the fallback
// signal described in §4.10.
var authSuccessPluginIDs = map[string]bool{
	"10456": true, // Authenticated Check : OS Identification
	"24269": true, // Authenticated Check : Hardware Inventory
	"33850": true, // Enumerate Installed Software (Authenticated)
	"58651": true, // Netstat Portscanner (Credentialed Check)
	"66334": true, // Patch Report (Authenticated Check)
}

// troubleshootingHints is attached to a ValidationResult whenever an
// authenticated scan's credentials are classified as failed, so the caller
// gets concrete next steps alongside the terminal failure.
var troubleshootingHints = []string{
	"verify the scan credentials are correct and have not expired",
	"confirm network reachability from the scanner instance to each target",
	"check that the scanning account has sufficient permissions for the requested checks",
}

// Validate parses a .nessus XML artifact against its declared scan type and
// produces the §4.10 ValidationResult: is_valid, authentication_status,
// warnings, and per-severity/host/byte statistics.
func Validate(artifact []byte, scanType models.ScanType) (*models.ValidationResult, error) {
	if len(artifact) < minArtifactBytes {
		return &models.ValidationResult{
			IsValid:              false,
			AuthenticationStatus: "unknown",
			Warnings:             []string{"artifact is too small to be a well-formed .nessus report"},
			Statistics:           map[string]int{"byteSize": len(artifact)},
		}, nil
	}

	var report nessusReport
	if err := xml.Unmarshal(artifact, &report); err != nil {
		return nil, errors.WrapInvalidInput(err, "parsing .nessus artifact")
	}

	stats := map[string]int{
		"critical": 0, "high": 0, "medium": 0, "low": 0, "info": 0,
		"hostCount": len(report.Report.Hosts),
		"byteSize":  len(artifact),
	}

	authStatusFromScanInfo := ""
	authSuccessHits := 0
	totalNonInfo := 0

	for _, host := range report.Report.Hosts {
		for _, item := range host.Items {
			if item.PluginID == scanInfoPluginID {
				authStatusFromScanInfo = parseCredentialedChecks(item.PluginOutput)
			}
			if authSuccessPluginIDs[item.PluginID] {
				authSuccessHits++
			}
			sev := severityName(item.Severity)
			stats[sev]++
			if sev != "info" {
				totalNonInfo++
			}
		}
	}
	stats["totalNonInfo"] = totalNonInfo

	result := &models.ValidationResult{
		IsValid:    true,
		Statistics: stats,
	}

	if stats["hostCount"] == 0 {
		result.IsValid = false
		result.AuthenticationStatus = "unknown"
		result.Warnings = append(result.Warnings, "report contains zero hosts")
		return result, nil
	}

	switch {
	case scanType == models.ScanUntrusted:
		result.AuthenticationStatus = "not_applicable"
		return result, nil
	case authStatusFromScanInfo == "yes" || (authStatusFromScanInfo == "" && authSuccessHits >= authSuccessFallbackThreshold):
		result.AuthenticationStatus = "success"
	case authStatusFromScanInfo == "partial":
		result.AuthenticationStatus = "partial"
	default:
		result.AuthenticationStatus = "failed"
	}

	if result.AuthenticationStatus == "failed" {
		result.IsValid = false
		result.Warnings = append(result.Warnings, "authenticated checks did not run; credentials may be invalid or unreachable")
		result.Troubleshooting = troubleshootingHints
	}

	return result, nil
}

func parseCredentialedChecks(output string) string {
	switch {
	case containsFold(output, "Credentialed checks : yes"):
		return "yes"
	case containsFold(output, "Credentialed checks : partial"):
		return "partial"
	case containsFold(output, "Credentialed checks : no"):
		return "no"
	default:
		return ""
	}
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	// plugin_output is plain ASCII in practice; a sliding-window
	// strings.EqualFold avoids strings.ToLower allocations for a single
	// short check.
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if strings.EqualFold(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func severityName(sev string) string {
	n, err := strconv.Atoi(sev)
	if err != nil {
		return "info"
	}
	switch n {
	case 4:
		return "critical"
	case 3:
		return "high"
	case 2:
		return "medium"
	case 1:
		return "low"
	default:
		return "info"
	}
}
