package vectorstore

// Document is a unit of storage in the vector store.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Content is the text to embed and store.
	Content string

	// Metadata holds key-value pairs used for exact-match filtering.
	// Scope keys (tenant_id, user_id, client_id) are injected by the store.
	Metadata map[string]string
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	// ID is the document identifier.
	ID string

	// Content is the stored text.
	Content string

	// Score is the similarity score, higher is more similar.
	Score float32

	// Metadata is the stored document metadata.
	Metadata map[string]string
}
