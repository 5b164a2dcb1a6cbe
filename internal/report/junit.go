package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// WriteJUnit renders the reports as JUnit XML at path, one testsuite per
// mission with steps and verification legs as testcases. CI systems get
// the same verdicts the JSON artifacts carry.
func WriteJUnit(path string, reports []schemas.ExecutionReport) error {
	doc := BuildJUnit(reports)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create junit directory %s: %w", dir, err)
		}
	}
	doc.Indent(2)
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("failed to write junit report %s: %w", path, err)
	}
	return nil
}

// BuildJUnit constructs the JUnit document. Element order follows input
// order, so identical reports produce byte-identical XML.
func BuildJUnit(reports []schemas.ExecutionReport) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	totalTests, totalFailures := 0, 0

	for _, r := range reports {
		tests, failures := appendSuite(root, r)
		totalTests += tests
		totalFailures += failures
	}

	root.CreateAttr("tests", strconv.Itoa(totalTests))
	root.CreateAttr("failures", strconv.Itoa(totalFailures))
	return doc
}

func appendSuite(root *etree.Element, r schemas.ExecutionReport) (tests, failures int) {
	suite := root.CreateElement("testsuite")
	name := r.MissionID
	if name == "" {
		name = "mission"
	}
	if r.Persona != "" {
		name = name + " (" + r.Persona + ")"
	}

	skipped := 0
	for _, s := range r.Steps {
		tests++
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", name)
		tc.CreateAttr("name", stepCaseName(s))
		tc.CreateAttr("time", seconds(s.Elapsed))
		if !s.Success {
			failures++
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", s.Error)
			failure.CreateAttr("type", stepFailureType(s))
		}
		if s.Healed {
			out := tc.CreateElement("system-out")
			out.SetText(fmt.Sprintf("healed: %s -> %s", s.Target, s.HealedTarget))
		}
	}

	legs := []struct {
		name string
		leg  schemas.LegResult
	}{
		{"triple-check database", r.TripleCheck.Database},
		{"triple-check api", r.TripleCheck.API},
		{"triple-check ui", r.TripleCheck.UI},
	}
	for _, l := range legs {
		tests++
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", name)
		tc.CreateAttr("name", l.name)
		tc.CreateAttr("time", "0.000")
		switch l.leg.Status {
		case schemas.LegSkipped:
			skipped++
			sk := tc.CreateElement("skipped")
			sk.CreateAttr("message", skipReason(l.leg))
		case schemas.LegFailed:
			failures++
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", l.leg.Error)
			failure.CreateAttr("type", legFailureType(l.leg))
		}
	}

	suite.CreateAttr("name", name)
	suite.CreateAttr("tests", strconv.Itoa(tests))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("skipped", strconv.Itoa(skipped))
	suite.CreateAttr("time", seconds(r.FinishedAt.Sub(r.StartedAt)))
	if !r.StartedAt.IsZero() {
		suite.CreateAttr("timestamp", r.StartedAt.UTC().Format(time.RFC3339))
	}
	return tests, failures
}

func stepCaseName(s schemas.StepResult) string {
	name := fmt.Sprintf("step %02d %s", s.Index, s.Kind)
	switch {
	case s.Description != "":
		return name + " " + s.Description
	case s.Target != "":
		return name + " " + s.Target
	}
	return name
}

func stepFailureType(s schemas.StepResult) string {
	if s.SecurityViolation {
		return "SecurityViolation"
	}
	return "StepFailure"
}

func legFailureType(leg schemas.LegResult) string {
	if leg.SecurityViolation {
		return "SecurityViolation"
	}
	return "VerificationMismatch"
}

func skipReason(leg schemas.LegResult) string {
	if reason, ok := leg.Details["reason"].(string); ok {
		return reason
	}
	return "skipped"
}

func seconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
