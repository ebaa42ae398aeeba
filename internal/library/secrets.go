package library

import (
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// secretDetector is built once and reused: gitleaks loads its full default
// rule set (AWS keys, private keys, provider API keys, generic
// high-entropy secrets, ...) on construction, which is too costly to redo
// per call.
var (
	secretDetectorOnce sync.Once
	secretDetector     *detect.Detector
)

func getSecretDetector() *detect.Detector {
	secretDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err == nil {
			secretDetector = d
		}
	})
	return secretDetector
}

// scrubSecrets redacts anything gitleaks' default rule set flags before
// text is embedded and stored by Library.Add and AddBatch. If the detector
// failed to load, text passes through unchanged rather than blocking
// ingestion.
func scrubSecrets(text string) string {
	d := getSecretDetector()
	if d == nil {
		return text
	}

	findings := d.DetectString(text)
	if len(findings) == 0 {
		return text
	}

	result := text
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		tag := "[REDACTED:" + strings.ToUpper(f.RuleID) + "]"
		result = strings.ReplaceAll(result, secret, tag)
	}
	return result
}
