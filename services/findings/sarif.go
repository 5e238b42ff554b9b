package findings

// SARIF 2.1.0 subset used for report export.
type SARIF struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []SARIFRun `json:"runs"`
}

type SARIFRun struct {
	Tool    SARIFTool     `json:"tool"`
	Results []SARIFResult `json:"results"`
}

type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

type SARIFDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type SARIFResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    SARIFMessage    `json:"message"`
	Locations  []SARIFLocation `json:"locations"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type SARIFMessage struct {
	Text string `json:"text"`
}

type SARIFLocation struct {
	PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
}

type SARIFPhysicalLocation struct {
	ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
	Region           *SARIFRegion          `json:"region,omitempty"`
}

type SARIFArtifactLocation struct {
	URI string `json:"uri"`
}

type SARIFRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine,omitempty"`
}

// ToSARIF renders findings as a single-run SARIF log.
func ToSARIF(list []Finding, driverName, version string) SARIF {
	results := make([]SARIFResult, 0, len(list))
	for _, f := range Sort(list) {
		res := SARIFResult{
			RuleID:  f.Type,
			Level:   sarifLevel(f.Severity),
			Message: SARIFMessage{Text: f.Title},
			Properties: map[string]any{
				"tool":     f.Tool,
				"severity": string(f.Severity),
			},
		}
		for _, loc := range f.Locations {
			uri := loc.File
			if uri == "" {
				uri = "contract.sol"
			}
			pl := SARIFPhysicalLocation{ArtifactLocation: SARIFArtifactLocation{URI: uri}}
			if loc.Line > 0 {
				pl.Region = &SARIFRegion{StartLine: loc.Line, EndLine: loc.EndLine}
			}
			res.Locations = append(res.Locations, SARIFLocation{PhysicalLocation: pl})
		}
		if res.Locations == nil {
			res.Locations = []SARIFLocation{}
		}
		results = append(results, res)
	}
	return SARIF{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs: []SARIFRun{{
			Tool:    SARIFTool{Driver: SARIFDriver{Name: driverName, Version: version}},
			Results: results,
		}},
	}
}

func sarifLevel(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "error"
	case SeverityLow:
		return "note"
	default:
		return "warning"
	}
}
