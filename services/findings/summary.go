package findings

// SeverityCounts holds per-severity totals.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Summary aggregates a finding list.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity SeverityCounts `json:"bySeverity"`
}

// Summarize reduces findings into severity counts.
func Summarize(list []Finding) Summary {
	s := Summary{Total: len(list)}
	for _, f := range list {
		switch f.Severity {
		case SeverityCritical:
			s.BySeverity.Critical++
		case SeverityHigh:
			s.BySeverity.High++
		case SeverityMedium:
			s.BySeverity.Medium++
		case SeverityLow:
			s.BySeverity.Low++
		}
	}
	return s
}

// Types returns the distinct vulnerability types in list, in first-seen order.
func Types(list []Finding) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, f := range list {
		if _, ok := seen[f.Type]; ok {
			continue
		}
		seen[f.Type] = struct{}{}
		out = append(out, f.Type)
	}
	return out
}
