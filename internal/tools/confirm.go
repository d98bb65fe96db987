package tools

import (
	"regexp"
	"strings"
)

// mutatingSQL matches data-modifying SQL keywords. Advisory only; this is not
// a security boundary.
var mutatingSQL = regexp.MustCompile(`(?i)\b(DELETE|DROP|TRUNCATE|ALTER|UPDATE)\b`)

var destructiveSQL = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE)\b`)

// highRiskTools always need confirmation.
var highRiskTools = map[string]bool{
	"send_email":          true,
	"create_pull_request": true,
	"merge_pull_request":  true,
}

// sqlTools carry a query argument that is inspected for mutations.
var sqlTools = map[string]bool{
	"run_sql":     true,
	"execute_sql": true,
	"query_sql":   true,
}

// AssessRisk rates a tool invocation.
func AssessRisk(tool string, args map[string]any) RiskLevel {
	if highRiskTools[tool] {
		return RiskHigh
	}
	if strings.HasPrefix(tool, "delete_") || strings.HasSuffix(tool, "_delete") {
		return RiskHigh
	}
	if sqlTools[tool] {
		query := sqlArg(args)
		switch {
		case destructiveSQL.MatchString(query):
			return RiskCritical
		case mutatingSQL.MatchString(query):
			return RiskHigh
		default:
			return RiskNone
		}
	}
	if tool == "control_device" || strings.HasPrefix(tool, "home_") {
		return RiskMedium
	}
	if tool == "remember" {
		return RiskLow
	}
	return RiskNone
}

// RequiresConfirmation flags invocations a caller may want a human to approve:
// outbound email, pull request changes, deletes and data-modifying SQL.
func RequiresConfirmation(tool string, args map[string]any) bool {
	return AssessRisk(tool, args) >= RiskHigh
}

func sqlArg(args map[string]any) string {
	for _, key := range []string{"query", "sql", "statement"} {
		if s, ok := args[key].(string); ok {
			return s
		}
	}
	return ""
}
