package domain

import "time"

// ReportType enumerates the kinds of source documents the system indexes.
type ReportType string

const (
	ReportTypeFiling     ReportType = "filing"
	ReportTypeTranscript ReportType = "transcript"
	ReportTypeOther      ReportType = "other"
)

// Valid reports whether t is one of the known report types.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeFiling, ReportTypeTranscript, ReportTypeOther:
		return true
	}
	return false
}

// Filters restricts a similarity search to records matching all supplied
// predicates. Zero values mean "no constraint".
type Filters struct {
	Ticker     string
	ReportType ReportType
	DateFrom   time.Time
	DateTo     time.Time
}

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	return f.Ticker == "" && f.ReportType == "" && f.DateFrom.IsZero() && f.DateTo.IsZero()
}

// RetrievedPassage is one ranked retrieval result handed to the prompt
// assembly step.
type RetrievedPassage struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Ticker     string
	ReportType ReportType
	FilingDate time.Time
	Text       string
	Score      float32
}
