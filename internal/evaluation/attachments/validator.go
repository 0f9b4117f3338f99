// Package attachments enforces the upload policy and the required-document
// checklist, and talks to the opaque blob store.
package attachments

import (
	"io"
	"sort"
	"strings"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/evaluation/submission"

	"compliance-workers/pkg/registry"
)

// Validator applies the tenant upload policy, with per-document overrides
// from the registry checklist taking precedence.
type Validator struct {
	policy config.UploadConfig
}

func NewValidator(policy config.UploadConfig) *Validator {
	return &Validator{policy: policy}
}

// ValidateAndRead checks the content type, then streams the upload through a
// size-capped reader so an oversized file is rejected without buffering the
// whole payload. Returns the accepted bytes and their size.
func (v *Validator) ValidateAndRead(doc registry.DocumentDefinition, contentType string, r io.Reader) ([]byte, int64, error) {
	if !v.contentTypeAllowed(doc, contentType) {
		return nil, 0, errors.NewUnsupportedFileTypeError(doc.ID, contentType)
	}

	limit := v.sizeLimit(doc)

	// Read one byte past the limit to detect overflow without draining the rest.
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, 0, errors.NewBlobStoreFailedError(err)
	}
	size := int64(len(data))
	if size > limit {
		return nil, 0, errors.NewFileTooLargeError(doc.ID, size, limit)
	}

	return data, size, nil
}

// MissingRequiredDocuments returns the required checklist entries not yet
// present in the submission's attachment set, sorted for stable output.
func (v *Validator) MissingRequiredDocuments(docs []registry.DocumentDefinition, sub *submission.StageSubmission) []string {
	var missing []string
	for _, doc := range docs {
		if !doc.Required {
			continue
		}
		if sub.AttachmentByDocumentID(doc.ID) == nil {
			missing = append(missing, doc.ID)
		}
	}
	sort.Strings(missing)
	return missing
}

func (v *Validator) contentTypeAllowed(doc registry.DocumentDefinition, contentType string) bool {
	allowed := doc.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = v.policy.AllowedContentTypes
	}
	for _, ct := range allowed {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	return false
}

func (v *Validator) sizeLimit(doc registry.DocumentDefinition) int64 {
	if doc.MaxSizeBytes > 0 {
		return doc.MaxSizeBytes
	}
	return v.policy.MaxSizeBytes
}
