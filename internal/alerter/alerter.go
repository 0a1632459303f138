package alerter

import (
	"fmt"
	"log"
	"strings"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"
)

// Metric names accepted in alerter rules.
const (
	MetricMalformedRecords  = "malformed_records"
	MetricMalformedRatio    = "malformed_ratio"
	MetricInvalidLookupRows = "invalid_lookup_rows"
	MetricUntaggedRecords   = "untagged_records"
	MetricUntaggedRatio     = "untagged_ratio"
	MetricFailedChunks      = "failed_chunks"
)

// Alerter evaluates the diagnostics of a finished run against configured
// rules and sends one consolidated notification when any rule triggers.
type Alerter struct {
	rules    []config.AlerterRule
	notifier model.Notifier
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	for _, rule := range cfg.Rules {
		if _, _, ok := metricValue(&model.Result{}, rule.Metric); !ok {
			return nil, fmt.Errorf("alerter rule '%s' uses unknown metric '%s'", rule.Name, rule.Metric)
		}
		if !validOperator(rule.Operator) {
			return nil, fmt.Errorf("alerter rule '%s' uses unknown operator '%s'", rule.Name, rule.Operator)
		}
	}
	return &Alerter{rules: cfg.Rules, notifier: notifier}, nil
}

// Evaluate returns one HTML message per triggered rule.
func (a *Alerter) Evaluate(result *model.Result) []string {
	var triggeredMessages []string

	for _, rule := range a.rules {
		currentValue, unit, _ := metricValue(result, rule.Metric)
		if !check(currentValue, rule.Threshold, rule.Operator) {
			continue
		}
		msg := fmt.Sprintf("<h3>Alert: %s</h3>"+
			"<ul>"+
			"<li><b>Metric:</b> <code>%s</code></li>"+
			"<li><b>Condition:</b> <code>%s %.2f</code></li>"+
			"<li><b>Observed Value:</b> <code>%s %s</code></li>"+
			"</ul>",
			rule.Name, rule.Metric, rule.Operator, rule.Threshold, formatValue(currentValue), unit)
		triggeredMessages = append(triggeredMessages, msg)
	}

	return triggeredMessages
}

// Notify evaluates the rules for a run over source and sends the summary.
// It returns how many rules triggered.
func (a *Alerter) Notify(source string, result *model.Result) (int, error) {
	messages := a.Evaluate(result)
	if len(messages) == 0 {
		return 0, nil
	}
	log.Printf("Alerter evaluation completed. %d alert(s) triggered.", len(messages))

	body := "<h1>FlowTagger Alert Summary</h1>" +
		fmt.Sprintf("<p>The following alerts were triggered for <code>%s</code> (%d records):</p><hr>", source, result.Records) +
		strings.Join(messages, "<hr>")
	subject := fmt.Sprintf("FlowTagger Alert Summary (%d Triggered)", len(messages))

	if a.notifier == nil {
		return len(messages), nil
	}
	if err := a.notifier.Send(subject, body); err != nil {
		return len(messages), fmt.Errorf("failed to send alert notification: %w", err)
	}
	log.Printf("Consolidated alert notification sent.")
	return len(messages), nil
}

// metricValue extracts a named metric from a result.
func metricValue(result *model.Result, metric string) (float64, string, bool) {
	lines := result.Records + result.MalformedTotal()
	switch metric {
	case MetricMalformedRecords:
		return float64(result.MalformedTotal()), "lines", true
	case MetricMalformedRatio:
		return ratio(result.MalformedTotal(), lines), "of lines", true
	case MetricInvalidLookupRows:
		return float64(result.Lookup.InvalidRows), "rows", true
	case MetricUntaggedRecords:
		return float64(result.Untagged()), "records", true
	case MetricUntaggedRatio:
		return ratio(result.Untagged(), result.Records), "of records", true
	case MetricFailedChunks:
		return float64(len(result.FailedChunks)), "chunks", true
	default:
		return 0, "", false
	}
}

func ratio(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.4f", v)
}

func validOperator(operator string) bool {
	switch operator {
	case ">", "<", "=", ">=", "<=":
		return true
	}
	return false
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		log.Printf("Warning: unknown operator '%s' in alerter rule", operator)
		return false
	}
}
