// Package datafile decodes and validates project configuration payloads.
package datafile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

var supportedVersions = map[string]bool{"": true, "2": true, "3": true, "4": true}

// Parse decodes a datafile and returns the validated project
func Parse(data []byte) (*domain.Project, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewValidationError("datafile is empty")
	}

	var df Datafile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, domain.NewValidationErrorWithCause("datafile is not valid JSON", err)
	}

	if !supportedVersions[df.Version] {
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported datafile version %q", df.Version))
	}

	project, err := ToDomain(&df)
	if err != nil {
		return nil, err
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}

	project.Datafile = append([]byte(nil), data...)
	return project, nil
}
