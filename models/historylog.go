package models

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nitrous-signer/core/corelog"
)

var logLog = corelog.For("models.historylog")

// HistoryLog is an append-only, per-group transcript of decrypted
// inner-event JSON on disk, so Store's projection survives a restart
// instead of starting empty until the next MessageReceived event.
// Adapted from the teacher's per-room (channel/group/dm) chat log
// (logging.go): one tab-separated file per room, with the same
// backward-seeking tail read for bounded-memory history loads on large
// logs. Generalized from roomType+roomKey to a single groupIDHex,
// since every conversation this module manages is an MLS group.
type HistoryLog struct {
	dir string
}

// NewHistoryLog returns a HistoryLog rooted at dir. dir is created on
// first write if missing.
func NewHistoryLog(dir string) *HistoryLog { return &HistoryLog{dir: dir} }

func (h *HistoryLog) path(groupIDHex string) string {
	safe := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"\t", "_",
		":", "_",
		" ", "_",
	).Replace(groupIDHex)
	return filepath.Join(h.dir, safe+".log")
}

// Append writes one line for msg to groupIDHex's log file. createdAt
// is a unix timestamp used only for the log's own human-readable
// column; it is not round-tripped back into Message on Load.
func (h *HistoryLog) Append(groupIDHex string, msg Message, createdAt int64) error {
	if h.dir == "" {
		return nil
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		logLog.Warn().Err(err).Msg("create history log dir")
		return err
	}

	f, err := os.OpenFile(h.path(groupIDHex), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ts := time.Unix(createdAt, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s\t%d\t%s\n", ts, msg.Epoch, escapeField(msg.InnerEventJSON))
	_, err = f.WriteString(line)
	return err
}

// Load reads up to the last maxMessages entries for groupIDHex,
// oldest first. A missing log file is not an error: it simply means
// no history has been persisted yet.
func (h *HistoryLog) Load(groupIDHex string, maxMessages int) ([]Message, error) {
	if h.dir == "" {
		return nil, nil
	}

	f, err := os.Open(h.path(groupIDHex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	lines, err := tailLines(f, maxMessages)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(lines))
	for _, line := range lines {
		msg, err := parseHistoryLine(groupIDHex, line)
		if err != nil {
			logLog.Warn().Err(err).Str("group", groupIDHex).Msg("skipping malformed history line")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// tailLines returns the last n non-empty lines of f, reading backward
// in fixed-size chunks so a multi-gigabyte log never has to be read in
// full just to recover recent history.
func tailLines(f *os.File, n int) ([]string, error) {
	const chunkSize = 8192

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size
	linesFound := 0

	for offset > 0 && linesFound <= n {
		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)

		for _, b := range chunk {
			if b == '\n' {
				linesFound++
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(buf)))
	var all []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			all = append(all, line)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func parseHistoryLine(groupIDHex, line string) (Message, error) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 3 {
		return Message{}, fmt.Errorf("expected 3 tab-separated fields, got %d", len(parts))
	}
	epoch, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("invalid epoch %q: %w", parts[1], err)
	}
	return Message{
		GroupIDHex:     groupIDHex,
		InnerEventJSON: unescapeField(parts[2]),
		Epoch:          epoch,
	}, nil
}

// escapeField/unescapeField keep a single log line per message even
// when InnerEventJSON content embeds a literal newline.
func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '\\' {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i += 2
				continue
			case '\\':
				b.WriteByte('\\')
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
