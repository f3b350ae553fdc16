// Package domain defines the core archiver types, the closed enums used
// throughout the pipelines, and the validation gate applied at admission
// and pipeline entry points.
package domain

// Kind is the external entity's variant, a closed set mirrored by the
// upstream API's own `type` field.
type Kind string

const (
	KindStory   Kind = "story"
	KindComment Kind = "comment"
	KindJob     Kind = "job"
	KindPoll    Kind = "poll"
	KindPollOpt Kind = "pollopt"
)

// ValidKinds is the recognised set of item kinds.
var ValidKinds = map[Kind]bool{
	KindStory: true, KindComment: true, KindJob: true,
	KindPoll: true, KindPollOpt: true,
}

// SnapshotReason is the closed set of reasons the Snapshot Policy may emit.
// Stored as a checked string column rather than a database enum, matching
// how the teacher's enums are persisted as plain strings.
type SnapshotReason string

const (
	ReasonScoreSpike SnapshotReason = "score_spike"
	ReasonFrontPage  SnapshotReason = "front_page"
	ReasonSample     SnapshotReason = "sample"
	ReasonNewItem    SnapshotReason = "new_item"
)

// ValidSnapshotReasons is the recognised set of snapshot reasons.
var ValidSnapshotReasons = map[SnapshotReason]bool{
	ReasonScoreSpike: true, ReasonFrontPage: true,
	ReasonSample: true, ReasonNewItem: true,
}

// Item is one row of the Item table: the archiver's record of a single
// external entity plus local bookkeeping and enrichment fields.
type Item struct {
	ID      int64
	Kind    Kind
	Deleted bool
	Dead    bool

	Title  string
	URL    string
	Text   string
	Author string

	CreatedAt int64 // external unix seconds
	Score     *int
	Descendants *int
	Parent      *int64
	Kids        []int64 // ordered child-id list; order preserved

	FirstSeenAt   int64 // local ms
	LastUpdatedAt int64 // local ms
	LastChangedAt int64 // local ms
	UpdateCount   int64

	AITopic              *string
	AIContentType        *string
	AISentiment          *float64
	AIAnalyzedAt         *int64
	EmbeddingGeneratedAt *int64
}

// EnrichedItem is the external item shape plus the front-page flag computed
// by a pipeline before handing the batch to the Store.
type EnrichedItem struct {
	Item
	IsFrontPage bool
}

// Snapshot is one append-only time-series row referencing an Item.
type Snapshot struct {
	ID          int64
	ItemID      int64
	CapturedAt  int64
	Score       *int
	Descendants *int
	Reason      SnapshotReason
}

// UpsertResult is the Store's summary of a batch upsert.
type UpsertResult struct {
	Processed int
	Changed   int
	Snapshots []Snapshot
}

// PipelineResult is the summary every pipeline run surfaces, matching the
// external contract: {success, items_processed, items_changed,
// snapshots_created, duration_ms, errors, error_messages?}.
type PipelineResult struct {
	Success          bool
	ItemsProcessed   int
	ItemsChanged     int
	SnapshotsCreated int
	DurationMS       int64
	Errors           int
	ErrorMessages    []string
}
