package constants

// HTTP API limits
const (
	// MaxUploadBytes caps one uploaded document
	MaxUploadBytes = 20 << 20

	// MaxRequestBytes caps a multipart request carrying a batch of documents
	MaxRequestBytes = 100 << 20

	// MaxBatchDocuments is the most documents one processing run accepts
	MaxBatchDocuments = 500
)

// Graph query defaults
const (
	// DefaultMinSharedProjects is the project count a person needs to be
	// reported as cross-project
	DefaultMinSharedProjects = 2
)

// Shutdown
const (
	// ShutdownTimeoutSeconds bounds graceful shutdown of the server
	ShutdownTimeoutSeconds = 10
)
