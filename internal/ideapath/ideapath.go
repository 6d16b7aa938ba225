// Package ideapath derives storage paths for thread documents and reads
// dates and titles back out of them.
package ideapath

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	maxSlugLen  = 30
	defaultSlug = "thread"
)

var (
	// Characters kept in slugs: word characters plus CJK ideographs. Runs of
	// anything else collapse to a single hyphen.
	slugStrip  = regexp.MustCompile(`[^a-z0-9_\p{Han}]+`)
	dateKeyPat = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-`)
	// Uniqueness suffix: base36 unix milliseconds, 8 chars from 2004 through
	// 2059.
	uniqueSuffix = regexp.MustCompile(`-([0-9a-z]{8})$`)
)

// epoch bounds (unix millis) a trailing segment must decode into before it
// is treated as a uniqueness suffix rather than a title word.
const (
	minSuffixMillis = 946_684_800_000   // 2000-01-01
	maxSuffixMillis = 4_102_444_800_000 // 2100-01-01
)

// ForNewThread builds the storage path for a thread created at the given
// moment: <root>/<YYYY>/<MM>/<YYYY-MM-DD>-<slug>-<base36 millis>.md.
// The millisecond suffix keeps same-second, same-title threads distinct.
func ForNewThread(root, title string, at time.Time) string {
	at = at.UTC()
	name := at.Format("2006-01-02") + "-" + Slug(title) + "-" + strconv.FormatInt(at.UnixMilli(), 36) + ".md"
	return path.Join(root, at.Format("2006"), at.Format("01"), name)
}

// Slug normalizes a title into a path-safe fragment.
func Slug(title string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if r := []rune(s); len(r) > maxSlugLen {
		s = strings.Trim(string(r[:maxSlugLen]), "-")
	}
	if s == "" {
		return defaultSlug
	}
	return s
}

// DateKey extracts the first YYYY-MM-DD substring found anywhere in p.
func DateKey(p string) (string, bool) {
	key := dateKeyPat.FindString(p)
	return key, key != ""
}

// Title recovers the human title from a thread path: the filename minus
// extension, leading date prefix and trailing uniqueness suffix. Returns
// "Untitled" when nothing remains.
func Title(p string) string {
	name := path.Base(p)
	name = strings.TrimSuffix(name, path.Ext(name))
	hadDate := datePrefix.MatchString(name)
	name = datePrefix.ReplaceAllString(name, "")
	if m := uniqueSuffix.FindStringSubmatch(name); m != nil && isSuffixMillis(m[1]) {
		name = strings.TrimSuffix(name, m[0])
	} else if hadDate && len(name) == 8 && isSuffixMillis(name) {
		// Untitled threads carry only the suffix after the date prefix.
		name = ""
	}
	if name == "" {
		return "Untitled"
	}
	return name
}

// CreatedAt decodes the uniqueness suffix back into the thread's exact
// creation time. Returns false for paths without a recognizable suffix.
func CreatedAt(p string) (time.Time, bool) {
	name := strings.TrimSuffix(path.Base(p), path.Ext(path.Base(p)))
	m := uniqueSuffix.FindStringSubmatch(name)
	if m == nil || !isSuffixMillis(m[1]) {
		return time.Time{}, false
	}
	millis, _ := strconv.ParseInt(m[1], 36, 64)
	return time.UnixMilli(millis).UTC(), true
}

func isSuffixMillis(seg string) bool {
	millis, err := strconv.ParseInt(seg, 36, 64)
	return err == nil && millis >= minSuffixMillis && millis <= maxSuffixMillis
}
