package enum

type EntryStatus string

const (
	EntrySuccess          EntryStatus = "success"
	EntryTransientFailure EntryStatus = "transient_failure"
	EntryPermanentFailure EntryStatus = "permanent_failure"
)

func (s EntryStatus) String() string {
	return string(s)
}
