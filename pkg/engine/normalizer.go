package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultBlockSize is the number of lines that share one fingerprint block.
const DefaultBlockSize = 5

// Normalizer turns RawFindings into canonical Findings.
type Normalizer struct {
	BlockSize int
}

// NewNormalizer returns a normalizer with the given block size (DefaultBlockSize if <= 0).
func NewNormalizer(blockSize int) *Normalizer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Normalizer{BlockSize: blockSize}
}

// Normalize maps severity, resolves the repo-relative path and computes the fingerprint.
// Unknown severities become MEDIUM and are returned as warnings.
func (n *Normalizer) Normalize(sc ScanContext, raws []RawFinding) ([]Finding, []NormalizeWarning) {
	log := sc.Log().Named("normalizer")
	out := make([]Finding, 0, len(raws))
	var warnings []NormalizeWarning

	for _, r := range raws {
		sev, ok := MapSeverity(r.Tool, r.RawSeverity)
		if !ok {
			w := NormalizeWarning{Tool: r.Tool, RuleID: r.RuleID, RawSeverity: r.RawSeverity}
			warnings = append(warnings, w)
			log.Warn("Unknown severity, defaulting to MEDIUM.",
				zap.String("tool", r.Tool),
				zap.String("rule_id", r.RuleID),
				zap.String("raw_severity", r.RawSeverity))
		}

		location := RelativePath(sc.Root, r.FilePath)
		key := location
		resource := strings.TrimSpace(r.Resource)
		switch {
		case location == "":
			location, key = resource, resource
		case r.Line <= 0 && resource != "":
			// lockfiles and image targets carry many line-less findings
			key = location + "#" + resource
		}
		category := Categorize(r.Tool, r.RuleID, r.Message)
		fp := Fingerprint(key, category, r.Line, n.BlockSize)
		tool := strings.ToLower(r.Tool)

		out = append(out, Finding{
			ID:          FindingIDFromFingerprint(fp),
			ScanID:      sc.ScanID,
			Fingerprint: fp,
			FilePath:    location,
			Line:        r.Line,
			Category:    category,
			RuleID:      r.RuleID,
			Severity:    sev,
			Message:     strings.TrimSpace(r.Message),
			Tools:       []string{tool},
			Status:      StatusOpen,
			Sources: []SourceRef{{
				Tool:        tool,
				RuleID:      r.RuleID,
				RawSeverity: r.RawSeverity,
				Severity:    sev,
				Line:        r.Line,
				Message:     strings.TrimSpace(r.Message),
			}},
		})
	}
	return out, warnings
}

// Fingerprint hashes location, category bucket and coarse line block.
func Fingerprint(location string, category Category, line, blockSize int) string {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if line < 0 {
		line = 0
	}
	h := sha256.New()
	h.Write([]byte(location))
	h.Write([]byte{0})
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(line / blockSize)))
	return hex.EncodeToString(h.Sum(nil))
}

// RelativePath returns p relative to root with symlinks resolved and forward slashes.
// Paths that cannot be resolved on disk are cleaned lexically.
func RelativePath(root, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.FromSlash(p)

	abs := p
	if !filepath.IsAbs(abs) && root != "" {
		abs = filepath.Join(root, p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if root != "" {
		resolvedRoot := root
		if r, err := filepath.EvalSymlinks(root); err == nil {
			resolvedRoot = r
		}
		if rel, err := filepath.Rel(resolvedRoot, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}

	out := filepath.ToSlash(filepath.Clean(p))
	for strings.HasPrefix(out, "../") {
		out = strings.TrimPrefix(out, "../")
	}
	return strings.TrimPrefix(out, "./")
}
