package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ext is the file extension of snapshot files.
const Ext = ".epi"

// Info holds metadata for retention decisions.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	RunID     string
	Day       int
}

// RetentionPolicy decides which snapshots to keep.
type RetentionPolicy interface {
	Apply(snapshots []Info) (keep []Info)
}

// CountPolicy keeps the N most recent snapshots.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount snapshots (assumed sorted newest-first).
func (p *CountPolicy) Apply(snapshots []Info) []Info {
	if len(snapshots) <= p.MaxCount {
		return snapshots
	}
	return snapshots[:p.MaxCount]
}

// AgePolicy keeps snapshots newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

// Apply keeps snapshots whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(snapshots []Info) []Info {
	cutoff := time.Now().Add(-p.MaxAge)
	var keep []Info
	for _, s := range snapshots {
		if s.CreatedAt.After(cutoff) {
			keep = append(keep, s)
		}
	}
	return keep
}

// SizePolicy keeps snapshots until total size exceeds MaxTotalBytes.
type SizePolicy struct {
	MaxTotalBytes int64
}

// Apply keeps snapshots (newest-first) until adding the next would exceed the limit.
func (p *SizePolicy) Apply(snapshots []Info) []Info {
	var keep []Info
	var total int64
	for _, s := range snapshots {
		if total+s.Size > p.MaxTotalBytes && len(keep) > 0 {
			break
		}
		keep = append(keep, s)
		total += s.Size
	}
	return keep
}

// CompositePolicy keeps a snapshot if ANY sub-policy wants it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of snapshots kept by any sub-policy.
func (p *CompositePolicy) Apply(snapshots []Info) []Info {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, s := range policy.Apply(snapshots) {
			kept[s.Path] = true
		}
	}
	var result []Info
	for _, s := range snapshots {
		if kept[s.Path] {
			result = append(result, s)
		}
	}
	return result
}

// FileName returns the file name of the snapshot taken before day of a run.
func FileName(runID string, day int) string {
	return fmt.Sprintf("%s-day%05d%s", runID, day, Ext)
}

// List scans dir for snapshot files and returns them newest-first. Files
// whose header cannot be read are skipped.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := ReadHeader(path)
		if err != nil {
			continue
		}
		out = append(out, Info{
			Path:      path,
			Size:      fi.Size(),
			CreatedAt: h.CreatedAt,
			RunID:     h.RunID,
			Day:       h.Day,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// ApplyRetention deletes snapshots not kept by the policy.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	snapshots, err := List(dir)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool)
	for _, s := range policy.Apply(snapshots) {
		keepSet[s.Path] = true
	}
	for _, s := range snapshots {
		if keepSet[s.Path] {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
		}
		deleted = append(deleted, s.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", s[len(s)-1:], s)
	}
}

// ParseSize parses size strings like "100MB", "1GB", "500KB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	// longer suffixes first so "MB" does not match "B"
	for _, ss := range []struct {
		suffix     string
		multiplier int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, ss.suffix) {
			num, err := strconv.ParseInt(strings.TrimSuffix(s, ss.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size: %q", s)
			}
			return num * ss.multiplier, nil
		}
	}
	return 0, fmt.Errorf("invalid size: %q (expected suffix: B, KB, MB, GB)", s)
}

// Policy builds a composite policy from the configured limits. Zero values
// are ignored; no limits keeps everything.
func Policy(maxCount int, maxAge, maxSize string) (RetentionPolicy, error) {
	var ps []RetentionPolicy
	if maxCount > 0 {
		ps = append(ps, &CountPolicy{MaxCount: maxCount})
	}
	if maxAge != "" {
		d, err := ParseDuration(maxAge)
		if err != nil {
			return nil, err
		}
		ps = append(ps, &AgePolicy{MaxAge: d})
	}
	if maxSize != "" {
		n, err := ParseSize(maxSize)
		if err != nil {
			return nil, err
		}
		ps = append(ps, &SizePolicy{MaxTotalBytes: n})
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return &CompositePolicy{Policies: ps}, nil
}
