package models

import "slices"

// ModelStatus is the lifecycle state of a model. Analyses and actions report the
// same values through rollups.
type ModelStatus string

const (
	StatusDraft      ModelStatus = "draft"      // local only
	StatusWaiting    ModelStatus = "waiting"    // submitted, queued remotely
	StatusProcessing ModelStatus = "processing" // local catch-all for in-flight work
	StatusComputing  ModelStatus = "computing"  // remote only
	StatusLoading    ModelStatus = "loading"    // remote only
	StatusConverting ModelStatus = "converting" // remote only
	StatusError      ModelStatus = "error"
	StatusFinished   ModelStatus = "finished"
)

// AllStatuses lists every status in priority order.
var AllStatuses = []ModelStatus{
	StatusDraft,
	StatusWaiting,
	StatusProcessing,
	StatusComputing,
	StatusLoading,
	StatusConverting,
	StatusError,
	StatusFinished,
}

// InFlightStatuses are the statuses the poller refreshes from the remote service.
var InFlightStatuses = []ModelStatus{
	StatusWaiting,
	StatusProcessing,
	StatusComputing,
	StatusLoading,
	StatusConverting,
}

// Valid reports whether s is a known status.
func (s ModelStatus) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Terminal reports whether s can no longer change.
func (s ModelStatus) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// InFlight reports whether s is awaiting a remote result.
func (s ModelStatus) InFlight() bool {
	return slices.Contains(InFlightStatuses, s)
}

// FromRemote maps a status reported by the calculation service. Known non-draft
// values are kept verbatim, anything else becomes processing.
func FromRemote(remote string) ModelStatus {
	status := ModelStatus(remote)
	if status == StatusDraft || !status.Valid() {
		return StatusProcessing
	}

	return status
}

// StatusCounts is the number of members found in each status.
type StatusCounts map[ModelStatus]int

// CountStatuses builds the counts for a multiset of statuses.
func CountStatuses(statuses ...ModelStatus) StatusCounts {
	counts := make(StatusCounts, len(statuses))
	for _, s := range statuses {
		counts[s]++
	}

	return counts
}

// Total is the number of members.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}

	return total
}

// RollupCondition selects how a rollup rule inspects the counts.
type RollupCondition int

const (
	// RollupEmpty matches when there are no members.
	RollupEmpty RollupCondition = iota
	// RollupAny matches when at least one member has the rule status.
	RollupAny
	// RollupAll matches when every member has the rule status.
	RollupAll
)

// RollupRule is one row of the rollup table.
type RollupRule struct {
	When   RollupCondition
	Status ModelStatus
	Result ModelStatus
}

// RollupRules is evaluated top to bottom, first match wins. It is the single
// definition of derived status: the in-memory evaluator and the SQL predicate
// both walk this table.
var RollupRules = []RollupRule{
	{When: RollupEmpty, Result: StatusDraft},
	{When: RollupAny, Status: StatusError, Result: StatusError},
	{When: RollupAny, Status: StatusWaiting, Result: StatusWaiting},
	{When: RollupAny, Status: StatusProcessing, Result: StatusProcessing},
	{When: RollupAny, Status: StatusFinished, Result: StatusFinished},
	{When: RollupAll, Status: StatusDraft, Result: StatusDraft},
}

// RollupFallback is the result when no rule matches.
const RollupFallback = StatusProcessing

// Matches reports whether the rule applies to the counts.
func (r RollupRule) Matches(counts StatusCounts) bool {
	total := counts.Total()

	switch r.When {
	case RollupEmpty:
		return total == 0
	case RollupAny:
		return counts[r.Status] > 0
	case RollupAll:
		return counts[r.Status] == total
	default:
		return false
	}
}

// Rollup derives the aggregate status of the members.
func (c StatusCounts) Rollup() ModelStatus {
	for _, rule := range RollupRules {
		if rule.Matches(c) {
			return rule.Result
		}
	}

	return RollupFallback
}

// Aggregate derives the aggregate status of a multiset of member statuses.
func Aggregate(statuses ...ModelStatus) ModelStatus {
	return CountStatuses(statuses...).Rollup()
}
