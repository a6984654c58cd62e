package cache

import "strconv"

// Kind groups cache keys by the aggregate they hold.
type Kind string

const (
	KindStats  Kind = "stats"
	KindSkills Kind = "skills"
	KindTrends Kind = "trends"
)

// AggregateKinds are dropped whenever stored records change.
var AggregateKinds = []Kind{KindStats, KindSkills, KindTrends}

// Key is an unversioned cache key. Cache renders it as
// "<version>:<kind>:<param>".
type Key struct {
	Kind  Kind
	Param string
}

// StatsKey keys a stats aggregate. An empty filter means "all".
func StatsKey(filter string) Key {
	if filter == "" {
		filter = "all"
	}
	return Key{Kind: KindStats, Param: filter}
}

// SkillsKey keys a top-N skill ranking.
func SkillsKey(limit int) Key {
	return Key{Kind: KindSkills, Param: "top" + strconv.Itoa(limit)}
}

// TrendsKey keys an N-day trend series.
func TrendsKey(days int) Key {
	return Key{Kind: KindTrends, Param: strconv.Itoa(days) + "d"}
}

func (k Key) render(version string) string {
	return version + ":" + string(k.Kind) + ":" + k.Param
}

func kindPrefix(version string, kind Kind) string {
	return version + ":" + string(kind) + ":"
}
