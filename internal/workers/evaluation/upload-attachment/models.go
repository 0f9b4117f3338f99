// internal/workers/evaluation/upload-attachment/models.go
package uploadattachment

type Input struct {
	SubmissionID  string `json:"submissionId"`
	DocumentID    string `json:"documentId"`
	Filename      string `json:"filename"`
	ContentType   string `json:"contentType"`
	ContentBase64 string `json:"contentBase64"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	DocumentID   string `json:"documentId"`
	URL          string `json:"url"`
	SizeBytes    int64  `json:"sizeBytes"`
	UploadedAt   string `json:"uploadedAt"`
}
