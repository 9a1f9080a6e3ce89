package music

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var (
	bracketTailRegex = regexp.MustCompile(`[\(\[\{][^\(\[\{]*?[\)\]\}]$`)
	camelBoundary    = regexp.MustCompile(`([a-z])([A-Z])`)
	titleSeparators  = []string{"|", "//", " ─ ", " - "}
)

// Candidate scoring weights.
const (
	scoreDurationClose = 100
	scoreDurationNear  = 40
	scoreArtistExact   = 80
	scoreArtistPartial = 30
	scoreTitleSimilar  = 50

	titleSimilarity = 0.7
)

// cleanTitle reduces a video title to comparable words: uploader tags and
// trailing "(Official Video)"-style blocks are dropped, punctuation becomes
// spaces.
func cleanTitle(title, uploader string) string {
	if title == "" {
		return ""
	}
	t := strings.ToLower(camelBoundary.ReplaceAllString(title, "${1} ${2}"))
	u := strings.ToLower(camelBoundary.ReplaceAllString(uploader, "${1} ${2}"))

	for _, sep := range titleSeparators {
		if !strings.Contains(t, sep) {
			continue
		}
		kept := make([]string, 0, 2)
		for _, part := range strings.Split(t, sep) {
			part = strings.TrimSpace(part)
			if u != "" && (part == u || part == strings.ReplaceAll(u, " ", "")) {
				continue
			}
			kept = append(kept, part)
		}
		if len(kept) > 0 {
			t = strings.Join(kept, " ")
		}
		break
	}

	for {
		trimmed := bracketTailRegex.ReplaceAllString(strings.TrimSpace(t), "")
		if trimmed == t {
			break
		}
		t = trimmed
	}
	if u != "" {
		t = strings.ReplaceAll(t, u, " ")
	}

	out := []rune(t)
	for i, r := range out {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			out[i] = ' '
		}
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

// idfWeights weighs every word by how rare it is across the candidate
// titles, so a shared "official" counts less than a shared song name.
func idfWeights(docs []string) map[string]float64 {
	if len(docs) == 0 {
		return nil
	}
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, w := range strings.Fields(doc) {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			df[w]++
		}
	}
	weights := make(map[string]float64, len(df))
	for w, n := range df {
		weights[w] = math.Log(1 + float64(len(docs))/float64(n))
	}
	return weights
}

// similar reports whether the weighted Jaccard overlap of a and b reaches
// titleSimilarity.
func similar(a, b string, weights map[string]float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	inA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		inA[w] = true
	}
	inB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		inB[w] = true
	}

	unknown := math.Log(1 + float64(len(weights)))
	weightOf := func(w string) float64 {
		if weights == nil {
			return 1
		}
		if v, ok := weights[w]; ok {
			return v
		}
		return unknown
	}

	var shared, total float64
	for w := range inA {
		total += weightOf(w)
		if inB[w] {
			shared += weightOf(w)
		}
	}
	for w := range inB {
		if !inA[w] {
			total += weightOf(w)
		}
	}
	if total == 0 {
		return false
	}
	return shared/total >= titleSimilarity
}

func scoreCandidate(c RawCatalogEntry, meta TrackMeta, want string, weights map[string]float64) int {
	score := 0
	if meta.Duration > 0 && c.Duration > 0 {
		diff := c.Duration - meta.Duration
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff < 2500*time.Millisecond:
			score += scoreDurationClose
		case diff < 6*time.Second:
			score += scoreDurationNear
		}
	}
	if artist := strings.ToLower(meta.Artist()); artist != "" {
		uploader := strings.ToLower(c.Uploader)
		switch {
		case uploader == artist:
			score += scoreArtistExact
		case strings.Contains(uploader, artist):
			score += scoreArtistPartial
		}
	}
	if similar(cleanTitle(c.Title, ""), want, weights) {
		score += scoreTitleSimilar
	}
	return score
}

// selectBest picks the search hit most likely to be the requested song.
// The first public candidate wins ties so a plain search keeps its ranking.
func selectBest(candidates []RawCatalogEntry, meta TrackMeta) (RawCatalogEntry, bool) {
	docs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, cleanTitle(c.Title, ""))
	}
	weights := idfWeights(docs)
	want := cleanTitle(meta.Name, "")

	var (
		best  RawCatalogEntry
		found bool
		top   = -1
	)
	for _, c := range candidates {
		if !c.Public() {
			continue
		}
		if s := scoreCandidate(c, meta, want, weights); s > top {
			top, best, found = s, c, true
		}
	}
	return best, found
}
