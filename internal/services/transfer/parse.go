package transfer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/models"
)

// lineTimeFormat is how rsync renders %t.
const lineTimeFormat = "2006/01/02 15:04:05"

const deletingCode = "*deleting"

// itemizeWidth is the fixed width of rsync's %i field.
const itemizeWidth = 11

// ParseLine parses one "<timestamp> <itemized-change-code> <path>" line.
// Lines in any other shape report false.
func ParseLine(line string, loc *time.Location) (models.FileOutcome, bool) {
	line = strings.Trim(strings.TrimRight(line, "\r"), `"`)
	if len(line) < len(lineTimeFormat)+itemizeWidth+3 || line[len(lineTimeFormat)] != ' ' {
		return models.FileOutcome{}, false
	}

	ts, err := time.ParseInLocation(lineTimeFormat, line[:len(lineTimeFormat)], loc)
	if err != nil {
		return models.FileOutcome{}, false
	}

	rest := line[len(lineTimeFormat)+1:]
	if rest[itemizeWidth] != ' ' {
		return models.FileOutcome{}, false
	}
	code := strings.TrimRight(rest[:itemizeWidth], " ")
	path := rest[itemizeWidth+1:]
	if path == "" {
		return models.FileOutcome{}, false
	}

	change, isDir, ok := classify(code)
	if !ok {
		return models.FileOutcome{}, false
	}

	return models.FileOutcome{
		Time:   ts,
		Code:   code,
		Path:   path,
		Change: change,
		IsDir:  isDir || strings.HasSuffix(path, "/"),
	}, true
}

// classify maps an itemized change code (YXcstpoguax) to a file change.
func classify(code string) (models.FileChange, bool, bool) {
	if code == deletingCode {
		return models.ChangeDeleted, false, true
	}
	if len(code) < 2 || !strings.ContainsRune("<>ch.", rune(code[0])) {
		return "", false, false
	}

	isDir := code[1] == 'd'
	attrs := code[2:]
	switch {
	case (code[0] == '.' || code[0] == 'h') && strings.Trim(attrs, ". ") == "":
		return models.ChangeUnchanged, isDir, true
	case attrs != "" && strings.Trim(attrs, "+") == "":
		return models.ChangeCreated, isDir, true
	default:
		return models.ChangeUpdated, isDir, true
	}
}

var (
	statsNumberRe = regexp.MustCompile(`^Number of (files|created files|deleted files|regular files transferred): ([\d,.]+[KMGTP]?)(?: \((.*)\))?`)
	statsSizeRe   = regexp.MustCompile(`^(Total file size|Total transferred file size): ([\d,.]+[KMGTP]?) bytes`)
	regCountRe    = regexp.MustCompile(`reg: ([\d,.]+[KMGTP]?)`)
)

// stats holds the parts of the rsync --stats summary that feed the counters.
type stats struct {
	seen             bool
	files            int
	regularFiles     int
	created          int
	deleted          int
	transferred      int
	bytesTotal       int64
	bytesTransferred int64
}

// parseStatsLine folds one line of --stats output into st.
func (st *stats) parseStatsLine(line string) {
	line = strings.TrimSpace(line)
	if m := statsNumberRe.FindStringSubmatch(line); m != nil {
		st.seen = true
		n := parseCount(m[2])
		switch m[1] {
		case "files":
			st.files = n
			st.regularFiles = n
			if rm := regCountRe.FindStringSubmatch(m[3]); rm != nil {
				st.regularFiles = parseCount(rm[1])
			}
		case "created files":
			st.created = n
			if rm := regCountRe.FindStringSubmatch(m[3]); rm != nil {
				st.created = parseCount(rm[1])
			}
		case "deleted files":
			st.deleted = n
			if rm := regCountRe.FindStringSubmatch(m[3]); rm != nil {
				st.deleted = parseCount(rm[1])
			}
		case "regular files transferred":
			st.transferred = n
		}
		return
	}
	if m := statsSizeRe.FindStringSubmatch(line); m != nil {
		st.seen = true
		size := parseSize(m[2])
		if m[1] == "Total file size" {
			st.bytesTotal = size
		} else {
			st.bytesTransferred = size
		}
	}
}

// counters merges the summary with the per-file outcomes. The summary wins
// when present because rsync only itemizes changed files.
func (st *stats) counters(files []models.FileOutcome) models.TransferCounters {
	var c models.TransferCounters
	for _, f := range files {
		if f.IsDir {
			continue
		}
		switch f.Change {
		case models.ChangeCreated:
			c.FilesCreated++
		case models.ChangeUpdated:
			c.FilesUpdated++
		case models.ChangeDeleted:
			c.FilesDeleted++
		case models.ChangeUnchanged:
			c.FilesUnchanged++
		}
	}
	if !st.seen {
		return c
	}

	c.FilesCreated = st.created
	c.FilesDeleted = st.deleted
	if updated := st.transferred - st.created; updated >= 0 {
		c.FilesUpdated = updated
	}
	if unchanged := st.regularFiles - st.transferred; unchanged >= 0 {
		c.FilesUnchanged = unchanged
	}
	c.BytesTotal = st.bytesTotal
	c.BytesTransferred = st.bytesTransferred
	return c
}

func parseCount(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return int(parseSize(s))
}

// parseSize reads rsync's human readable sizes ("1.23M", "4,096").
func parseSize(s string) int64 {
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}
