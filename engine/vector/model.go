// Package vector is the sole owner of all vector-store operations: the
// embedding index behind Backfill Phase C and the similarity service.
package vector

// Record is one embedding to store or that was retrieved. Its vector id
// is always the decimal-string form of the item id.
type Record struct {
	ItemID    int64
	Embedding []float32
	Topic     string
	Score     int
	Title     string // truncated to 200 chars by the caller before upsert
}

// SearchResult is one k-NN hit.
type SearchResult struct {
	ItemID int64
	Score  float32
	Topic  string
	Title  string
}

// Description is the store's self-reported shape.
type Description struct {
	Dimensions  int
	VectorCount uint64
}
